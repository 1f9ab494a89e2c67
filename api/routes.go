package api

const (
	// PingEndpoint is the endpoint for checking the API status
	PingEndpoint = "/ping"
	// MetricsEndpoint exposes the prometheus metrics
	MetricsEndpoint = "/metrics"
	// PollsEndpoint lists the known polls
	PollsEndpoint = "/polls"
	// PollURLParam is the poll identifier path parameter
	PollURLParam = "pollId"
	// PollEndpoint is the endpoint to get the poll info
	PollEndpoint = "/polls/{" + PollURLParam + "}"
	// DistributionEndpoint returns the distribution state of a poll
	DistributionEndpoint = PollEndpoint + "/distribution"
	// AlphaEndpoint returns the matching coefficient of a poll
	AlphaEndpoint = PollEndpoint + "/alpha"
	// IndexURLParam is the vote option index path parameter
	IndexURLParam = "index"
	// AllocationEndpoint returns the allocation of a project, given the
	// spent voice credits in the spent query parameter
	AllocationEndpoint = PollEndpoint + "/allocations/{" + IndexURLParam + "}"
	// ClaimsEndpoint lists the claims (GET) or claims an allocation (POST)
	ClaimsEndpoint = PollEndpoint + "/claims"
	// ClaimEndpoint returns a single claim
	ClaimEndpoint = ClaimsEndpoint + "/{" + IndexURLParam + "}"
	// DepositsEndpoint lists the deposits of a poll
	DepositsEndpoint = PollEndpoint + "/deposits"
	// EventsEndpoint lists the events of a poll from the from query parameter
	EventsEndpoint = PollEndpoint + "/events"
	// RoundEndpoint returns the indexed round entity of a poll
	RoundEndpoint = PollEndpoint + "/round"
	// ProjectsEndpoint returns the indexed project entities of a poll
	ProjectsEndpoint = PollEndpoint + "/projects"
	// ProjectEndpoint returns a single indexed project
	ProjectEndpoint = ProjectsEndpoint + "/{" + IndexURLParam + "}"
)
