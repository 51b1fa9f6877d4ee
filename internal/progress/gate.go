package progress

import "github.com/p-n-ai/pai-learn/internal/curriculum"

// DefaultPassPercent is the quiz score needed to master a topic.
const DefaultPassPercent = 80

// Gate decides module access from completion and quiz results.
type Gate struct {
	// PassPercent is the minimum score_percent for a topic to count as mastered.
	PassPercent int
	// EmptyModuleUnlocks decides whether a module with no topics lets the
	// learner into the next one.
	EmptyModuleUnlocks bool
}

// DefaultGate returns the gate used when no policy is configured.
func DefaultGate() Gate {
	return Gate{PassPercent: DefaultPassPercent, EmptyModuleUnlocks: true}
}

// Passed reports whether a quiz result meets the threshold.
func (g Gate) Passed(r QuizResult) bool {
	return r.ScorePercent >= g.PassPercent
}

// TopicMastered reports whether a topic is both marked complete and has a
// passing quiz result. Either one alone is not enough.
func (g Gate) TopicMastered(s State, key curriculum.TopicKey) bool {
	if !s.Completed[key] {
		return false
	}
	r, ok := s.QuizResults[key]
	return ok && g.Passed(r)
}

// IsModuleUnlocked reports whether the module at index m is accessible.
// Module 0 is always unlocked; any other module requires every topic of the
// previous module to be mastered.
func (g Gate) IsModuleUnlocked(s State, m int) bool {
	if m == 0 {
		return true
	}
	prev, ok := s.Syllabus.Module(m - 1)
	if !ok || m >= len(s.Syllabus.Modules) {
		return false
	}
	if len(prev.Topics) == 0 {
		return g.EmptyModuleUnlocks
	}
	for t := range prev.Topics {
		if !g.TopicMastered(s, s.TopicKey(m-1, t)) {
			return false
		}
	}
	return true
}

// BestModuleScore returns the highest quiz score recorded for any topic in
// module m. It is for display only and plays no part in gating.
func (g Gate) BestModuleScore(s State, m int) (int, bool) {
	mod, ok := s.Syllabus.Module(m)
	if !ok {
		return 0, false
	}
	best, found := 0, false
	for t := range mod.Topics {
		r, ok := s.QuizResults[s.TopicKey(m, t)]
		if !ok {
			continue
		}
		if !found || r.ScorePercent > best {
			best, found = r.ScorePercent, true
		}
	}
	return best, found
}
