package agent

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/calehh/vp-proxy/state"
	"github.com/calehh/vp-proxy/types"
)

// Service is the admin and query HTTP API of the engine.
type Service struct {
	router     *gin.Engine
	proxy      *Engine
	listenAddr string
	adminToken string
	server     *http.Server
}

func NewService(listenAddr string, adminToken string, proxy *Engine) *Service {
	r := gin.Default()
	s := &Service{
		router:     r,
		proxy:      proxy,
		listenAddr: listenAddr,
		adminToken: adminToken,
	}
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.POST("/watch/status", s.handleStatus)
	s.router.POST("/getWatchlist", s.handleGetWatchlist)
	s.router.POST("/getHistory", s.handleGetHistory)
	s.router.POST("/getCouncil", s.handleGetCouncil)
	s.router.POST("/getExcludedActions", s.handleGetExcludedActions)
	s.router.POST("/getNeuron", s.handleGetNeuron)
	s.router.POST("/getVotes", s.handleGetVotes)

	admin := s.router.Group("/", s.authorize())
	admin.POST("/watch/start", s.handleStartWatching)
	admin.POST("/watch/stop", s.handleStopWatching)
	admin.POST("/watch/discover", s.handleDiscover)
	admin.POST("/watch/vote", s.handleVoteNow)
	admin.POST("/history/clear", s.handleClearHistory)
	admin.POST("/council/add", s.handleAddCouncilMember)
	admin.POST("/council/remove", s.handleRemoveCouncilMember)
	admin.POST("/council/reset", s.handleEmergencyReset)
	admin.POST("/actions/disallow", s.handleDisallowAction)
	admin.POST("/actions/allow", s.handleAllowAction)
	admin.POST("/config/governance", s.handleSetGovernance)
	admin.POST("/config/ledger", s.handleSetLedger)
	admin.POST("/neuron/create", s.handleCreateNeuron)
	admin.POST("/neuron/claim", s.handleClaimNeuron)
	admin.POST("/neuron/dissolve", s.handleIncreaseDissolveDelay)
	return s
}

func (s *Service) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called.
func (s *Service) Start() error {
	s.server = &http.Server{Addr: s.listenAddr, Handler: s.router}
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Service) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Service) authorize() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.adminToken == "" {
			c.Next()
			return
		}
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token != s.adminToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrUnauthorized.Error()})
			return
		}
		c.Next()
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrGovernanceNotSet), errors.Is(err, ErrLedgerNotSet), errors.Is(err, ErrIdentityNotSet),
		errors.Is(err, ErrJournalNotSet):
		return http.StatusPreconditionFailed
	case errors.Is(err, ErrInvalidMember):
		return http.StatusBadRequest
	case IsRemote(err):
		return http.StatusBadGateway
	case IsDomain(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrAlreadyWatching), errors.Is(err, ErrNotWatching), errors.Is(err, ErrWatchingStopped),
		errors.Is(err, ErrNeuronAlreadyExists), errors.Is(err, ErrNeuronNotSet), errors.Is(err, ErrBootstrapInProgress),
		errors.Is(err, ErrNoPendingClaim), errors.Is(err, ErrProposalNotWatched), errors.Is(err, ErrProposalLocked):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func abortWith(c *gin.Context, err error) {
	c.JSON(statusOf(err), gin.H{"error": err.Error()})
}

type StatusResponse struct {
	Watching      bool                `json:"watching"`
	Mark          *types.LowWaterMark `json:"mark,omitempty"`
	WatchlistSize int                 `json:"watchlistSize"`
	HistorySize   int                 `json:"historySize"`
	Governance    string              `json:"governance"`
	Ledger        string              `json:"ledger"`
	Neuron        types.NeuronID      `json:"neuron,omitempty"`
	PendingClaim  *uint64             `json:"pendingClaim,omitempty"`
}

func (s *Service) handleStatus(c *gin.Context) {
	response := StatusResponse{
		Watching:      s.proxy.IsWatching(),
		WatchlistSize: len(s.proxy.Watchlist()),
		HistorySize:   len(s.proxy.History()),
		Governance:    s.proxy.GovernanceAddress(),
		Ledger:        s.proxy.LedgerAddress(),
	}
	if mark, ok := s.proxy.Mark(); ok {
		response.Mark = &mark
	}
	if neuron, ok := s.proxy.Neuron(); ok {
		response.Neuron = neuron
	}
	if nonce, ok := s.proxy.PendingClaim(); ok {
		response.PendingClaim = &nonce
	}
	c.JSON(http.StatusOK, response)
}

type StartWatchingReq struct {
	ProposalId        uint64 `json:"proposalId"`
	ActionType        uint64 `json:"actionType"`
	CreationTimestamp uint64 `json:"creationTimestamp"`
}

func (s *Service) handleStartWatching(c *gin.Context) {
	var requestData StartWatchingReq
	if err := c.ShouldBindJSON(&requestData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := s.proxy.StartWatching(types.LowWaterMark{
		ID:         types.ProposalID(requestData.ProposalId),
		ActionType: types.ActionType(requestData.ActionType),
		CreatedAt:  requestData.CreationTimestamp,
	})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"watching": true})
}

func (s *Service) handleStopWatching(c *gin.Context) {
	if err := s.proxy.StopWatching(); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"watching": false})
}

func (s *Service) handleDiscover(c *gin.Context) {
	if err := s.proxy.TriggerDiscovery(c.Request.Context()); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"watchlist": s.proxy.Watchlist()})
}

type ProposalReq struct {
	ProposalId uint64 `json:"proposalId" binding:"required"`
}

func (s *Service) handleVoteNow(c *gin.Context) {
	var requestData ProposalReq
	if err := c.ShouldBindJSON(&requestData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status, err := s.proxy.VoteNow(c.Request.Context(), types.ProposalID(requestData.ProposalId))
	if err != nil && !status.Terminal() {
		abortWith(c, err)
		return
	}
	response := gin.H{"proposalId": requestData.ProposalId, "status": status.String()}
	if err != nil {
		response["error"] = err.Error()
	}
	c.JSON(http.StatusOK, response)
}

type GetWatchlistResponse struct {
	Watchlist []types.WatchEntry `json:"watchlist"`
	Total     uint64             `json:"total"`
}

func (s *Service) handleGetWatchlist(c *gin.Context) {
	watchlist := s.proxy.Watchlist()
	c.JSON(http.StatusOK, GetWatchlistResponse{Watchlist: watchlist, Total: uint64(len(watchlist))})
}

type GetHistoryReq struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

type GetHistoryResponse struct {
	History []types.HistoryEntry `json:"history"`
	Total   uint64               `json:"total"`
}

func (s *Service) handleGetHistory(c *gin.Context) {
	var requestData GetHistoryReq
	if err := c.ShouldBindJSON(&requestData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	history, total := s.proxy.HistoryPage(requestData.Page, requestData.PageSize)
	c.JSON(http.StatusOK, GetHistoryResponse{History: history, Total: total})
}

type GetVotesResponse struct {
	Votes []state.JournalRecord `json:"votes"`
	Total uint64                `json:"total"`
}

func (s *Service) handleGetVotes(c *gin.Context) {
	votes, err := s.proxy.Votes()
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, GetVotesResponse{Votes: votes, Total: uint64(len(votes))})
}

func (s *Service) handleClearHistory(c *gin.Context) {
	if err := s.proxy.ClearHistory(); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

type CouncilMemberReq struct {
	Name     string `json:"name"`
	NeuronId string `json:"neuronId"`
}

func (s *Service) handleAddCouncilMember(c *gin.Context) {
	var requestData CouncilMemberReq
	if err := c.ShouldBindJSON(&requestData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.proxy.AddCouncilMember(requestData.Name, types.NeuronID(requestData.NeuronId)); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"council": s.proxy.Council()})
}

func (s *Service) handleRemoveCouncilMember(c *gin.Context) {
	var requestData CouncilMemberReq
	if err := c.ShouldBindJSON(&requestData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	removed := s.proxy.RemoveCouncilMember(types.NeuronID(requestData.NeuronId))
	c.JSON(http.StatusOK, gin.H{"removed": removed, "council": s.proxy.Council()})
}

func (s *Service) handleEmergencyReset(c *gin.Context) {
	s.proxy.EmergencyReset()
	c.JSON(http.StatusOK, gin.H{"council": s.proxy.Council()})
}

func (s *Service) handleGetCouncil(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"council": s.proxy.Council()})
}

type ActionTypeReq struct {
	ActionType uint64 `json:"actionType"`
}

func (s *Service) handleDisallowAction(c *gin.Context) {
	var requestData ActionTypeReq
	if err := c.ShouldBindJSON(&requestData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	evicted := s.proxy.DisallowActionType(types.ActionType(requestData.ActionType))
	c.JSON(http.StatusOK, gin.H{"evicted": evicted, "excluded": s.proxy.ExcludedActionTypes()})
}

func (s *Service) handleAllowAction(c *gin.Context) {
	var requestData ActionTypeReq
	if err := c.ShouldBindJSON(&requestData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.proxy.AllowActionType(types.ActionType(requestData.ActionType))
	c.JSON(http.StatusOK, gin.H{"excluded": s.proxy.ExcludedActionTypes()})
}

func (s *Service) handleGetExcludedActions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"excluded": s.proxy.ExcludedActionTypes()})
}

type AddressReq struct {
	Url string `json:"url" binding:"required"`
}

func (s *Service) handleSetGovernance(c *gin.Context) {
	var requestData AddressReq
	if err := c.ShouldBindJSON(&requestData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.proxy.SetGovernance(requestData.Url); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"governance": requestData.Url})
}

func (s *Service) handleSetLedger(c *gin.Context) {
	var requestData AddressReq
	if err := c.ShouldBindJSON(&requestData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.proxy.SetLedger(requestData.Url); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ledger": requestData.Url})
}

type CreateNeuronReq struct {
	Amount uint64 `json:"amount" binding:"required"`
	Nonce  uint64 `json:"nonce"`
}

func (s *Service) handleCreateNeuron(c *gin.Context) {
	var requestData CreateNeuronReq
	if err := c.ShouldBindJSON(&requestData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	neuron, err := s.proxy.CreateNeuron(c.Request.Context(), requestData.Amount, requestData.Nonce)
	if err != nil {
		var pending *ClaimPendingError
		if errors.As(err, &pending) {
			c.JSON(http.StatusAccepted, gin.H{"error": err.Error(), "pendingClaim": pending.Nonce})
			return
		}
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"neuron": neuron})
}

func (s *Service) handleClaimNeuron(c *gin.Context) {
	neuron, err := s.proxy.ClaimNeuron(c.Request.Context())
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"neuron": neuron})
}

type DissolveDelayReq struct {
	Seconds uint32 `json:"seconds" binding:"required"`
}

func (s *Service) handleIncreaseDissolveDelay(c *gin.Context) {
	var requestData DissolveDelayReq
	if err := c.ShouldBindJSON(&requestData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.proxy.IncreaseDissolveDelay(c.Request.Context(), requestData.Seconds); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"seconds": requestData.Seconds})
}

func (s *Service) handleGetNeuron(c *gin.Context) {
	neuron, ok := s.proxy.Neuron()
	response := gin.H{"exists": ok, "neuron": neuron}
	if nonce, pending := s.proxy.PendingClaim(); pending {
		response["pendingClaim"] = nonce
	}
	c.JSON(http.StatusOK, response)
}
