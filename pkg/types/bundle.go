package types

// ContextBundle is the bounded set of domain data assembled for one reasoning
// engine call. Per-goal bundles carry Goal plus its tasks; the global
// prioritization bundle carries all goals, all open tasks and the latest
// overviews instead.
type ContextBundle struct {
	Goal      *Goal            `json:"goal,omitempty"`
	Goals     []Goal           `json:"goals,omitempty"`
	Tasks     []Task           `json:"tasks,omitempty"`
	Overviews []StatusOverview `json:"overviews,omitempty"`
	Items     []IngestedItem   `json:"items,omitempty"`
	Biography string           `json:"biography,omitempty"`
	Wellbeing string           `json:"wellbeing,omitempty"`
}
