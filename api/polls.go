package api

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/vocdoni/maci-payout/log"
	"github.com/vocdoni/maci-payout/storage"
	"github.com/vocdoni/maci-payout/tally"
	"github.com/vocdoni/maci-payout/types"
)

func urlUint(r *http.Request, param string) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, param), 10, 64)
}

// pollID parses the poll path parameter, writing the error response on
// failure.
func pollID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := urlUint(r, PollURLParam)
	if err != nil {
		ErrMalformedPollID.WithErr(err).Write(w)
		return 0, false
	}
	return id, true
}

func indexParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	index, err := urlUint(r, IndexURLParam)
	if err != nil {
		ErrMalformedParam.Withf("index: %v", err).Write(w)
		return 0, false
	}
	return index, true
}

// engine resolves the distribution of the poll in the path.
func (a *API) engine(w http.ResponseWriter, r *http.Request) (*tally.Engine, bool) {
	id, ok := pollID(w, r)
	if !ok {
		return nil, false
	}
	eng, ok := a.distributions.Distribution(id)
	if !ok {
		ErrDistributionNotFound.Withf("poll %d", id).Write(w)
		return nil, false
	}
	return eng, true
}

// engineError maps the distribution errors to API errors.
func engineError(err error) Error {
	switch tally.Classify(err) {
	case "ordering":
		return ErrOperationNotReady.WithErr(err)
	case "integrity":
		return ErrInvalidProof.WithErr(err)
	case "capacity":
		return ErrLimitReached.WithErr(err)
	case "funds":
		return ErrFundsUnavailable.WithErr(err)
	case "access":
		return ErrForbidden.WithErr(err)
	default:
		return ErrGenericInternalServerError.WithErr(err)
	}
}

// polls lists the known polls
// GET /polls
func (a *API) polls(w http.ResponseWriter, r *http.Request) {
	polls, err := a.storage.ListPolls()
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	if polls == nil {
		polls = []*storage.PollRecord{}
	}
	httpWriteJSON(w, polls)
}

// poll returns the poll summary
// GET /polls/{pollId}
func (a *API) poll(w http.ResponseWriter, r *http.Request) {
	id, ok := pollID(w, r)
	if !ok {
		return
	}
	p, err := a.storage.Poll(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			ErrPollNotFound.Withf("poll %d", id).Write(w)
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, p)
}

// distribution returns the distribution state
// GET /polls/{pollId}/distribution
func (a *API) distribution(w http.ResponseWriter, r *http.Request) {
	eng, ok := a.engine(w, r)
	if !ok {
		return
	}
	httpWriteJSON(w, newDistribution(eng.Record(), eng.Status()))
}

// alpha returns the matching coefficient for the current funds
// GET /polls/{pollId}/alpha
func (a *API) alpha(w http.ResponseWriter, r *http.Request) {
	eng, ok := a.engine(w, r)
	if !ok {
		return
	}
	alpha, err := eng.Alpha()
	if err != nil {
		engineError(err).Write(w)
		return
	}
	httpWriteJSON(w, &Alpha{Alpha: new(types.BigInt).SetBigInt(alpha)})
}

// allocation returns the amount a project would receive
// GET /polls/{pollId}/allocations/{index}?spent=N
func (a *API) allocation(w http.ResponseWriter, r *http.Request) {
	eng, ok := a.engine(w, r)
	if !ok {
		return
	}
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	spent, ok := new(big.Int).SetString(r.URL.Query().Get("spent"), 10)
	if !ok || spent.Sign() < 0 {
		ErrMalformedParam.With("spent must be a non negative integer").Write(w)
		return
	}
	amount, err := eng.GetAllocatedAmount(index, spent)
	if err != nil {
		engineError(err).Write(w)
		return
	}
	httpWriteJSON(w, &Allocation{
		Index:                 index,
		VoiceCreditsPerOption: new(types.BigInt).SetBigInt(spent),
		Amount:                new(types.BigInt).SetBigInt(amount),
	})
}

// newClaim pays the allocation of a project to its recipient. Anyone can
// submit it.
// POST /polls/{pollId}/claims
func (a *API) newClaim(w http.ResponseWriter, r *http.Request) {
	eng, ok := a.engine(w, r)
	if !ok {
		return
	}
	req := &ClaimRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return
	}
	if req.VoiceCreditsPerOption == nil || req.PerVOSpentVoiceCreditsSalt == nil {
		ErrMalformedBody.With("missing voice credits or salt").Write(w)
		return
	}
	amount, err := eng.Claim(req.ClaimParams())
	if err != nil {
		engineError(err).Write(w)
		return
	}
	log.Infow("claim submitted through the API", "pollID", eng.PollID(), "index", req.Index,
		"amount", amount.String())
	httpWriteJSON(w, &ClaimResponse{Index: req.Index, Amount: new(types.BigInt).SetBigInt(amount)})
}

// claims lists the claims of a poll
// GET /polls/{pollId}/claims
func (a *API) claims(w http.ResponseWriter, r *http.Request) {
	id, ok := pollID(w, r)
	if !ok {
		return
	}
	claims, err := a.storage.Claims(id)
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	if claims == nil {
		claims = []*storage.ClaimRecord{}
	}
	httpWriteJSON(w, claims)
}

// claim returns the claim of a project
// GET /polls/{pollId}/claims/{index}
func (a *API) claim(w http.ResponseWriter, r *http.Request) {
	id, ok := pollID(w, r)
	if !ok {
		return
	}
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	c, err := a.storage.Claim(id, index)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			ErrClaimNotFound.Withf("poll %d index %d", id, index).Write(w)
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, c)
}

// deposits lists the deposits of a poll
// GET /polls/{pollId}/deposits
func (a *API) deposits(w http.ResponseWriter, r *http.Request) {
	id, ok := pollID(w, r)
	if !ok {
		return
	}
	deposits, err := a.storage.Deposits(id)
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	if deposits == nil {
		deposits = []*storage.DepositRecord{}
	}
	httpWriteJSON(w, deposits)
}

// events lists the event log of a poll
// GET /polls/{pollId}/events?from=N
func (a *API) events(w http.ResponseWriter, r *http.Request) {
	id, ok := pollID(w, r)
	if !ok {
		return
	}
	from := 0
	if v := r.URL.Query().Get("from"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			ErrMalformedParam.Withf("from: %q", v).Write(w)
			return
		}
		from = n
	}
	evs, err := a.storage.Events(id, from)
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	if evs == nil {
		httpWriteJSON(w, []any{})
		return
	}
	httpWriteJSON(w, evs)
}
