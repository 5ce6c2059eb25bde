package signal

// features are the per-window statistics shared by the indicators. Computed
// once per evaluation so every indicator and the digit picker see the same
// numbers.
type features struct {
	digits    []int
	counts    [10]int
	n         int
	current   int
	markov    markovModel
	posterior [10]float64
}

// markovModel is the first-order transition table over the newest digit
// pairs.
type markovModel struct {
	table [10][10]int
	rows  [10]int
}

func newMarkov(digits []int, window int) markovModel {
	var m markovModel
	if len(digits) < 2 {
		return m
	}
	start := 0
	if len(digits) > window {
		start = len(digits) - window
	}
	for i := start; i+1 < len(digits); i++ {
		from, to := digits[i], digits[i+1]
		if from < 0 || from > 9 || to < 0 || to > 9 {
			continue
		}
		m.table[from][to]++
		m.rows[from]++
	}
	return m
}

// next returns the most probable next digit after cur and its row
// probability. Ties resolve to the lower digit.
func (m markovModel) next(cur int) (digit int, prob float64, samples int) {
	if cur < 0 || cur > 9 || m.rows[cur] == 0 {
		return -1, 0, 0
	}
	best, bestCount := 0, m.table[cur][0]
	for d := 1; d <= 9; d++ {
		if m.table[cur][d] > bestCount {
			best, bestCount = d, m.table[cur][d]
		}
	}
	return best, float64(bestCount) / float64(m.rows[cur]), m.rows[cur]
}

// likelihood is the smoothed row distribution P(next=d | cur). Laplace
// smoothing keeps the posterior non-degenerate on sparse rows.
func (m markovModel) likelihood(cur, d int) float64 {
	if cur < 0 || cur > 9 {
		return 0.1
	}
	return float64(m.table[cur][d]+1) / float64(m.rows[cur]+10)
}

func extract(digits []int, markovWindow int) *features {
	f := &features{digits: digits, n: len(digits)}
	for _, d := range digits {
		if d >= 0 && d <= 9 {
			f.counts[d]++
		}
	}
	if len(digits) > 0 {
		f.current = digits[len(digits)-1]
	}
	f.markov = newMarkov(digits, markovWindow)
	f.posterior = bayesPosterior(f)
	return f
}

// bayesPosterior blends the frequency prior with the Markov likelihood from
// the current digit, normalized to sum to 1 across the 10 digits.
func bayesPosterior(f *features) [10]float64 {
	var post [10]float64
	var sum float64
	for d := 0; d <= 9; d++ {
		prior := float64(f.counts[d]+1) / float64(f.n+10)
		post[d] = prior * f.markov.likelihood(f.current, d)
		sum += post[d]
	}
	if sum <= 0 {
		for d := range post {
			post[d] = 0.1
		}
		return post
	}
	for d := range post {
		post[d] /= sum
	}
	return post
}

// freq is the share of the window occupied by digit d.
func (f *features) freq(d int) float64 {
	if f.n == 0 {
		return 0
	}
	return float64(f.counts[d]) / float64(f.n)
}
