package match

// MatchConfidence converts an ISRC overlap into a confidence score in [0, 1].
// It blends coverage (what share of the home catalog the candidate accounts
// for) with volume (how many codes matched at all), so a perfect 1-of-1
// overlap scores well below a perfect 10-of-10 one. The curve is strictly
// monotonic: more matching codes never lower the score.
func MatchConfidence(matching, total int) float64 {
	if matching <= 0 || total <= 0 {
		return 0
	}
	if matching > total {
		matching = total
	}
	coverage := float64(matching) / float64(total)
	volume := 1 - 1/(1+float64(matching))
	return min(max(0.5*coverage+0.5*volume, 0), 1)
}
