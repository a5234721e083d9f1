package core

// merged is the fan-in of every work item outcome
type merged struct {
	responses   *ResponseSet
	validations []ValidationRecord
	retryCounts map[string]int
}

// mergeOutcomes combines outcomes in plan order. A responder addressed by
// several work items gets its texts joined with ResponseSeparator and the
// largest retry count seen. It runs only after every work item finished.
func mergeOutcomes(outcomes []WorkItemOutcome) merged {
	m := merged{responses: NewResponseSet(), retryCounts: make(map[string]int)}
	for _, oc := range outcomes {
		m.validations = append(m.validations, oc.Validations...)
		for _, out := range oc.Outputs {
			m.responses.Append(out.ResponderID, out.Text)
			if n := oc.RetryCounts[out.ResponderID]; n > m.retryCounts[out.ResponderID] {
				m.retryCounts[out.ResponderID] = n
			} else if _, ok := m.retryCounts[out.ResponderID]; !ok {
				m.retryCounts[out.ResponderID] = 0
			}
		}
	}
	return m
}
