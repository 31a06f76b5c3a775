package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ggonzalez94/stratsync/internal/admin"
	"github.com/ggonzalez94/stratsync/internal/codec"
	clierr "github.com/ggonzalez94/stratsync/internal/errors"
	"github.com/ggonzalez94/stratsync/internal/execution"
	"github.com/ggonzalez94/stratsync/internal/journal"
	"github.com/ggonzalez94/stratsync/internal/model"
	"github.com/ggonzalez94/stratsync/internal/registry"
)

func (s *Server) ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, model.Envelope{
		Version: model.EnvelopeVersion,
		Success: true,
		Data:    data,
		Meta:    s.meta(c),
	})
}

func (s *Server) fail(c *gin.Context, err error) {
	typed, ok := clierr.As(err)
	if !ok {
		typed = clierr.Wrap(clierr.CodeInternal, "internal error", err)
	}
	c.JSON(httpStatus(typed.Code), model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Error: &model.ErrorBody{
			Code:    int(typed.Code),
			Type:    clierr.TypeName(typed.Code),
			Message: typed.Error(),
		},
		Meta: s.meta(c),
	})
}

func (s *Server) meta(c *gin.Context) model.EnvelopeMeta {
	m := model.EnvelopeMeta{
		RequestID: c.GetHeader("X-Request-ID"),
		Timestamp: s.now().UTC(),
		Command:   c.Request.Method + " " + c.FullPath(),
	}
	if o := s.deps.Orchestrator; o != nil {
		m.Wallet = &model.WalletStatus{
			Address:       o.Wallet().Address().Hex(),
			ChainID:       o.Wallet().ChainID(),
			SelectedChain: o.Session().SelectedChain(),
		}
	}
	return m
}

func httpStatus(code clierr.Code) int {
	switch code {
	case clierr.CodeUsage, clierr.CodeValidation, clierr.CodeDecoding:
		return http.StatusBadRequest
	case clierr.CodeResolution:
		return http.StatusUnprocessableEntity
	case clierr.CodeBusy:
		return http.StatusConflict
	case clierr.CodeUnsupported:
		return http.StatusNotFound
	case clierr.CodeApproval, clierr.CodeEncoding, clierr.CodeDispatch, clierr.CodeSimulation, clierr.CodeSigner:
		return http.StatusBadGateway
	case clierr.CodeUnavailable, clierr.CodeTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) strategy(c *gin.Context, param string) (registry.Strategy, bool) {
	id := c.Param(param)
	st, ok := s.deps.Registry.Strategy(id)
	if !ok {
		s.fail(c, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("strategy not found: %s", id)))
		return registry.Strategy{}, false
	}
	return st, true
}

func (s *Server) action(c *gin.Context) (registry.Strategy, registry.StrategyAction, bool) {
	actionID, err := strconv.ParseUint(c.Param("action"), 10, 64)
	if err != nil {
		s.fail(c, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid action id %q", c.Param("action"))))
		return registry.Strategy{}, registry.StrategyAction{}, false
	}
	st, a, ok := s.deps.Registry.Action(c.Param("strategy"), actionID)
	if !ok {
		s.fail(c, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("action not found: %s/%d", c.Param("strategy"), actionID)))
		return registry.Strategy{}, registry.StrategyAction{}, false
	}
	return st, a, true
}

func (s *Server) requireOrchestrator(c *gin.Context) bool {
	if s.deps.Orchestrator == nil {
		s.fail(c, clierr.New(clierr.CodeUnavailable, "no wallet session configured"))
		return false
	}
	return true
}

func (s *Server) listChains(c *gin.Context) {
	chains := registry.Chains()
	out := make([]model.SelectorInfo, 0, len(chains))
	for _, ch := range chains {
		sel := registry.ResolveCrossChainID(ch.ID)
		rpc, _ := registry.DefaultRPCURL(ch.ID)
		out = append(out, model.SelectorInfo{
			ChainID:       ch.ID,
			ChainName:     ch.Name,
			CrossChainID:  sel,
			Mapped:        registry.IsMappedCrossChainID(sel),
			DefaultRPCURL: rpc,
		})
	}
	s.ok(c, out)
}

func (s *Server) listStrategies(c *gin.Context) {
	items := s.deps.Registry.Strategies()
	if category := strings.TrimSpace(c.Query("category")); category != "" {
		filtered := make([]registry.Strategy, 0, len(items))
		for _, st := range items {
			if strings.EqualFold(string(st.Category), category) {
				filtered = append(filtered, st)
			}
		}
		items = filtered
	}
	s.ok(c, items)
}

func (s *Server) getStrategy(c *gin.Context) {
	if st, ok := s.strategy(c, "id"); ok {
		s.ok(c, st)
	}
}

func (s *Server) strategyChains(c *gin.Context) {
	if st, ok := s.strategy(c, "id"); ok {
		s.ok(c, registry.AvailableDeployments(st))
	}
}

func (s *Server) strategyPositions(c *gin.Context) {
	st, ok := s.strategy(c, "id")
	if !ok {
		return
	}
	var chainID int64
	if raw := strings.TrimSpace(c.Query("chain_id")); raw != "" {
		v, err := registry.ParseChainID(raw)
		if err != nil {
			s.fail(c, clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("invalid chain_id %q", raw), err))
			return
		}
		chainID = v
	} else if s.deps.Orchestrator != nil {
		chainID = s.deps.Orchestrator.Session().SelectedChain()
	}
	data, err := s.deps.Positions.UserPositions(c.Request.Context(), st, chainID)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, data)
}

type chainRequest struct {
	ChainID int64 `json:"chain_id"`
}

func (s *Server) bindChain(c *gin.Context) (int64, bool) {
	var req chainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, clierr.Wrap(clierr.CodeUsage, "decode request body", err))
		return 0, false
	}
	if _, ok := registry.ChainMetadata(req.ChainID); !ok {
		s.fail(c, clierr.New(clierr.CodeValidation, fmt.Sprintf("unsupported chain %d", req.ChainID)))
		return 0, false
	}
	return req.ChainID, true
}

func (s *Server) getSession(c *gin.Context) {
	if !s.requireOrchestrator(c) {
		return
	}
	s.ok(c, s.meta(c).Wallet)
}

func (s *Server) selectChain(c *gin.Context) {
	if !s.requireOrchestrator(c) {
		return
	}
	chainID, ok := s.bindChain(c)
	if !ok {
		return
	}
	s.deps.Orchestrator.SetSelectedChain(chainID)
	s.ok(c, s.meta(c).Wallet)
}

type chainSwitcher interface {
	SwitchChain(chainID int64)
}

func (s *Server) switchWalletChain(c *gin.Context) {
	if !s.requireOrchestrator(c) {
		return
	}
	sw, ok := s.deps.Orchestrator.Wallet().(chainSwitcher)
	if !ok {
		s.fail(c, clierr.New(clierr.CodeUnsupported, "wallet cannot switch chains"))
		return
	}
	chainID, ok := s.bindChain(c)
	if !ok {
		return
	}
	sw.SwitchChain(chainID)
	s.ok(c, s.meta(c).Wallet)
}

func (s *Server) actionStatus(c *gin.Context) {
	if !s.requireOrchestrator(c) {
		return
	}
	o := s.deps.Orchestrator
	s.ok(c, gin.H{
		"loading":   o.Loading(),
		"results":   o.Results(),
		"approvals": o.ApprovalStatus(),
	})
}

func (s *Server) actionSnapshot(c *gin.Context) {
	if !s.requireOrchestrator(c) {
		return
	}
	st, a, ok := s.action(c)
	if !ok {
		return
	}
	s.ok(c, s.deps.Orchestrator.Snapshot(execution.KeyOf(st, a)))
}

// setInputs applies each provided field as an input change. A null or
// empty string clears the field.
func (s *Server) setInputs(c *gin.Context) {
	if !s.requireOrchestrator(c) {
		return
	}
	st, a, ok := s.action(c)
	if !ok {
		return
	}
	var body map[string]codec.Value
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, clierr.Wrap(clierr.CodeUsage, "decode inputs", err))
		return
	}
	key := execution.KeyOf(st, a)
	for _, p := range a.Parameters {
		if v, ok := body[p.Name]; ok {
			s.deps.Orchestrator.HandleInputChange(key, p.Name, v)
		}
	}
	s.ok(c, s.deps.Orchestrator.Snapshot(key))
}

type executeRequest struct {
	TokenAddress string `json:"token_address"`
	TokenAmount  string `json:"token_amount"`
}

func (s *Server) bindExecute(c *gin.Context) (executeRequest, bool) {
	var req executeRequest
	if c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, clierr.Wrap(clierr.CodeUsage, "decode request body", err))
		return req, false
	}
	return req, true
}

func (s *Server) planAction(c *gin.Context) {
	if !s.requireOrchestrator(c) {
		return
	}
	st, a, ok := s.action(c)
	if !ok {
		return
	}
	req, ok := s.bindExecute(c)
	if !ok {
		return
	}
	plan, err := s.deps.Orchestrator.Plan(st, a, req.TokenAddress, req.TokenAmount)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, plan)
}

func (s *Server) executeAction(c *gin.Context) {
	if !s.requireOrchestrator(c) {
		return
	}
	st, a, ok := s.action(c)
	if !ok {
		return
	}
	req, ok := s.bindExecute(c)
	if !ok {
		return
	}
	if err := s.deps.Orchestrator.ExecuteAction(c.Request.Context(), st, a, req.TokenAddress, req.TokenAmount); err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, s.deps.Orchestrator.Snapshot(execution.KeyOf(st, a)))
}

func (s *Server) listActivity(c *gin.Context) {
	if s.deps.Activity == nil {
		s.fail(c, clierr.New(clierr.CodeUnavailable, "activity journal is disabled"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	entries, err := s.deps.Activity.List(c.Request.Context(), journal.Filter{
		StrategyID: c.Query("strategy"),
		ResultType: c.Query("type"),
		Limit:      limit,
	})
	if err != nil {
		s.fail(c, clierr.Wrap(clierr.CodeInternal, "list activity", err))
		return
	}
	s.ok(c, entries)
}

func (s *Server) adminStats(c *gin.Context) { s.ok(c, s.deps.Admin.Stats()) }

func (s *Server) adminConfigs(c *gin.Context) { s.ok(c, s.deps.Admin.Configs()) }

func (s *Server) adminProtocols(c *gin.Context) { s.ok(c, s.deps.Admin.Entries()) }

func (s *Server) adminSetAction(c *gin.Context) {
	var req admin.ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, clierr.Wrap(clierr.CodeUsage, "decode request body", err))
		return
	}
	cfg, err := s.deps.Admin.SetAction(req)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, cfg)
}

func (s *Server) adminSetStrategyAction(c *gin.Context) {
	var req admin.ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, clierr.Wrap(clierr.CodeUsage, "decode request body", err))
		return
	}
	cfg, err := s.deps.Admin.SetStrategyAction(req)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, cfg)
}

func (s *Server) adminSetProtocol(c *gin.Context) {
	var req admin.ProtocolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, clierr.Wrap(clierr.CodeUsage, "decode request body", err))
		return
	}
	entry, err := s.deps.Admin.SetProtocol(req)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, entry)
}
