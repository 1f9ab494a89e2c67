package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vocdoni/maci-payout/api"
	"github.com/vocdoni/maci-payout/api/client"
	"github.com/vocdoni/maci-payout/events"
	"github.com/vocdoni/maci-payout/indexer"
	"github.com/vocdoni/maci-payout/metrics"
	"github.com/vocdoni/maci-payout/tally"
	"github.com/vocdoni/maci-payout/testutil"
)

type testAPI struct {
	round  *testutil.Round
	engine *tally.Engine
	srv    *httptest.Server
	cli    *client.HTTPclient
}

func newTestAPI(c *qt.C) *testAPI {
	round := testutil.NewRound(c.TB, nil)
	round.EndVoting()
	round.Merge()

	ix := indexer.New()
	reg := prometheus.NewRegistry()
	collector := metrics.New(reg)
	collector.SetClassifier(tally.Classify)
	eng := round.Engine(events.Multi{ix, collector}, collector)
	round.Tally(eng)
	round.Fund(eng, testutil.Budget)

	a, err := api.New(&api.APIConfig{
		Storage:       round.Storage,
		Distributions: api.Engines{eng.PollID(): eng},
		Indexer:       ix,
		Metrics:       reg,
	})
	c.Assert(err, qt.IsNil)
	srv := httptest.NewServer(a.Router())
	c.Cleanup(srv.Close)
	cli, err := client.New(srv.URL)
	c.Assert(err, qt.IsNil)
	cli.SetRetries(1)
	return &testAPI{round: round, engine: eng, srv: srv, cli: cli}
}

// get requests path and returns the status and the body.
func (ta *testAPI) get(c *qt.C, path string) (int, []byte) {
	resp, err := http.Get(ta.srv.URL + path)
	c.Assert(err, qt.IsNil)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	c.Assert(err, qt.IsNil)
	return resp.StatusCode, body
}

func errorCode(c *qt.C, body []byte) int {
	var apiErr struct {
		Code int `json:"code"`
	}
	c.Assert(json.Unmarshal(body, &apiErr), qt.IsNil, qt.Commentf("%s", body))
	return apiErr.Code
}

func TestDistributionEndpoints(t *testing.T) {
	c := qt.New(t)
	ta := newTestAPI(c)

	d, err := ta.cli.Distribution(7)
	c.Assert(err, qt.IsNil)
	c.Assert(d.Status, qt.Equals, tally.StatusTallied)
	c.Assert(d.ResultsCount, qt.Equals, uint64(4))
	c.Assert(d.TotalAmount.MathBigInt().Cmp(testutil.Budget), qt.Equals, 0)
	c.Assert(d.PayoutToken, qt.Equals, testutil.TokenAddr)

	alloc, err := ta.cli.Allocation(7, 0, big.NewInt(5))
	c.Assert(err, qt.IsNil)
	c.Assert(alloc.Amount.MathBigInt().Int64(), qt.Equals, int64(45))

	status, body := ta.get(c, "/polls/7/alpha")
	c.Assert(status, qt.Equals, http.StatusOK)
	var alpha api.Alpha
	c.Assert(json.Unmarshal(body, &alpha), qt.IsNil)
	c.Assert(alpha.Alpha.String(), qt.Equals, "10000000000000000000")

	status, body = ta.get(c, "/polls/8/distribution")
	c.Assert(status, qt.Equals, http.StatusNotFound)
	c.Assert(errorCode(c, body), qt.Equals, api.ErrDistributionNotFound.Code)

	status, body = ta.get(c, "/polls/x/distribution")
	c.Assert(status, qt.Equals, http.StatusBadRequest)
	c.Assert(errorCode(c, body), qt.Equals, api.ErrMalformedPollID.Code)

	status, body = ta.get(c, "/polls/7/allocations/0?spent=-1")
	c.Assert(status, qt.Equals, http.StatusBadRequest)
	c.Assert(errorCode(c, body), qt.Equals, api.ErrMalformedParam.Code)

	status, body = ta.get(c, "/polls/7/allocations/9?spent=1")
	c.Assert(status, qt.Equals, http.StatusConflict)
	c.Assert(errorCode(c, body), qt.Equals, api.ErrOperationNotReady.Code)
}

func TestPollEndpoints(t *testing.T) {
	c := qt.New(t)
	ta := newTestAPI(c)

	status, body := ta.get(c, "/polls")
	c.Assert(status, qt.Equals, http.StatusOK)
	var polls []map[string]any
	c.Assert(json.Unmarshal(body, &polls), qt.IsNil)
	c.Assert(polls, qt.HasLen, 1)

	status, _ = ta.get(c, "/polls/7")
	c.Assert(status, qt.Equals, http.StatusOK)
	status, body = ta.get(c, "/polls/99")
	c.Assert(status, qt.Equals, http.StatusNotFound)
	c.Assert(errorCode(c, body), qt.Equals, api.ErrPollNotFound.Code)

	status, body = ta.get(c, "/polls/7/deposits")
	c.Assert(status, qt.Equals, http.StatusOK)
	var deposits []map[string]any
	c.Assert(json.Unmarshal(body, &deposits), qt.IsNil)
	c.Assert(deposits, qt.HasLen, 1)

	status, body = ta.get(c, "/polls/7/events?from=2")
	c.Assert(status, qt.Equals, http.StatusOK)
	var evs []map[string]any
	c.Assert(json.Unmarshal(body, &evs), qt.IsNil)
	// init and commit skipped: four results and the deposit
	c.Assert(evs, qt.HasLen, 5)

	status, _ = ta.get(c, "/polls/7/events?from=-3")
	c.Assert(status, qt.Equals, http.StatusBadRequest)
}

func TestClaimEndpoint(t *testing.T) {
	c := qt.New(t)
	ta := newTestAPI(c)

	bad := api.NewClaimRequest(ta.round.Claim(0))
	bad.VoiceCreditsPerOption.SetUint64(6)
	_, err := ta.cli.Claim(7, bad)
	c.Assert(err, qt.ErrorMatches, fmt.Sprintf("(?s).*%d.*", api.ErrInvalidProof.Code))

	resp, err := ta.cli.Claim(7, api.NewClaimRequest(ta.round.Claim(0)))
	c.Assert(err, qt.IsNil)
	c.Assert(resp.Amount.MathBigInt().Int64(), qt.Equals, int64(45))
	c.Assert(ta.round.Balance(testutil.Recipient(0)).Int64(), qt.Equals, int64(45))

	_, err = ta.cli.Claim(7, api.NewClaimRequest(ta.round.Claim(0)))
	c.Assert(err, qt.ErrorMatches, fmt.Sprintf("(?s).*%d.*", api.ErrLimitReached.Code))

	r, err := http.Post(ta.srv.URL+"/polls/7/claims", "application/json", strings.NewReader("{"))
	c.Assert(err, qt.IsNil)
	r.Body.Close()
	c.Assert(r.StatusCode, qt.Equals, http.StatusBadRequest)

	status, _ := ta.get(c, "/polls/7/claims/0")
	c.Assert(status, qt.Equals, http.StatusOK)
	status, body := ta.get(c, "/polls/7/claims/1")
	c.Assert(status, qt.Equals, http.StatusNotFound)
	c.Assert(errorCode(c, body), qt.Equals, api.ErrClaimNotFound.Code)

	status, body = ta.get(c, "/polls/7/round")
	c.Assert(status, qt.Equals, http.StatusOK)
	var round indexer.Round
	c.Assert(json.Unmarshal(body, &round), qt.IsNil)
	c.Assert(round.Claims, qt.Equals, uint64(1))
	c.Assert(round.TotalClaimed.Int64(), qt.Equals, int64(45))

	status, body = ta.get(c, "/polls/7/projects/0")
	c.Assert(status, qt.Equals, http.StatusOK)
	var project indexer.Project
	c.Assert(json.Unmarshal(body, &project), qt.IsNil)
	c.Assert(project.Recipient, qt.Equals, testutil.Recipient(0))

	status, body = ta.get(c, "/metrics")
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(string(body), qt.Contains, `qfnode_funds_claims_total{poll="7"} 1`)
	c.Assert(string(body), qt.Contains, `qfnode_tally_rejections_total{op="claim",reason="integrity"} 1`)
	c.Assert(string(body), qt.Contains, `qfnode_tally_rejections_total{op="claim",reason="capacity"} 1`)
}

func TestStartStop(t *testing.T) {
	c := qt.New(t)
	round := testutil.NewRound(t, nil)
	a, err := api.New(&api.APIConfig{Host: "127.0.0.1", Port: 0, Storage: round.Storage})
	c.Assert(err, qt.IsNil)
	c.Assert(a.Addr(), qt.IsNil)
	c.Assert(a.Start(), qt.IsNil)
	c.Assert(a.Start(), qt.ErrorMatches, "API server already running")

	_, err = client.New("http://" + a.Addr().String())
	c.Assert(err, qt.IsNil)
	c.Assert(a.Stop(context.Background()), qt.IsNil)
	c.Assert(a.Addr(), qt.IsNil)

	_, err = api.New(&api.APIConfig{})
	c.Assert(err, qt.ErrorMatches, "missing storage instance")
}
