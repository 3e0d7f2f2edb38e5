package streamctx

// InterruptionProbability implements the policy: called by
// MessageManager when a new message arrives while the chatter is
// processing. Returns 0 once count reaches maxLimit.
//
//	P(interrupt) = max(minProb, 1.4/(count+2) + minProb)  if count < maxLimit
//	             = 0                                       otherwise
func InterruptionProbability(count int, minProb float64, maxLimit int) float64 {
	if count >= maxLimit {
		return 0
	}
	p := 1.4/float64(count+2) + minProb
	if p < minProb {
		return minProb
	}
	return p
}
