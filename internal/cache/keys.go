package cache

const (
	KeySnapshot      = "sim:snapshot"
	KeyScenario      = "sim:scenario"
	KeyTransitions   = "sim:transitions"
	KeyLatestMetrics = "sim:metrics:latest"
)
