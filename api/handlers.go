package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pokt-network/pocket-faucet/logging"
	"github.com/pokt-network/pocket-faucet/session"
	"github.com/pokt-network/pocket-faucet/status"
)

// FaucetConfigResponse is returned by getFaucetConfig.
type FaucetConfigResponse struct {
	Title          string         `json:"faucetTitle"`
	Status         []status.Entry `json:"faucetStatus"`
	StatusHash     string         `json:"faucetStatusHash"`
	Image          string         `json:"faucetImage"`
	HTML           string         `json:"faucetHtml"`
	CoinSymbol     string         `json:"faucetCoinSymbol"`
	CoinType       string         `json:"faucetCoinType"`
	CoinContract   string         `json:"faucetCoinContract"`
	CoinDecimals   int            `json:"faucetCoinDecimals"`
	MinClaim       string         `json:"minClaim"`
	MaxClaim       string         `json:"maxClaim"`
	SessionTimeout int64          `json:"sessionTimeout"`
	TxExplorerLink string         `json:"ethTxExplorerLink"`
	Time           int64          `json:"time"`
	ResultSharing  map[string]any `json:"resultSharing"`
	Modules        map[string]any `json:"modules"`
}

// SessionResponse is returned by startSession and claimReward.
type SessionResponse struct {
	Session string                 `json:"session,omitempty"`
	Status  session.Status         `json:"status"`
	Tasks   []session.BlockingTask `json:"tasks,omitempty"`
	Balance string                 `json:"balance,omitempty"`
	Target  string                 `json:"target,omitempty"`

	FailedCode   string `json:"failedCode,omitempty"`
	FailedReason string `json:"failedReason,omitempty"`
}

// ClaimStatusResponse is returned by getClaimStatus.
type ClaimStatusResponse struct {
	Status   string `json:"status"`
	QueueIdx int64  `json:"queueIdx"`
	TxHash   string `json:"txhash,omitempty"`
	TxBlock  uint64 `json:"txblock,omitempty"`
	LastIdx  int64  `json:"lastIdx"`
}

// UnknownClaimResponse is returned by getClaimStatus when there is no claim
// to report on.
type UnknownClaimResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (s *Server) handleGetMaxReward(_ *http.Request, _ *Request) (any, error) {
	return amountString(s.sessions.Config().MaxDropAmount), nil
}

func (s *Server) handleGetFaucetConfig(r *http.Request, req *Request) (any, error) {
	sessionID := req.Query.Get("session")
	var active *session.Session
	if sessionID != "" {
		active, _ = s.sessions.GetSession(sessionID, session.StatusRunning, session.StatusClaimable)
	}

	cfg := s.sessions.Config()
	snapshot := s.status.Get(req.Query.Get("cliver"), active != nil)

	client := s.config.Client
	resultSharing := client.ResultSharing
	if resultSharing == nil {
		resultSharing = map[string]any{}
	}

	return &FaucetConfigResponse{
		Title:          client.Title,
		Status:         snapshot.Status,
		StatusHash:     snapshot.Hash,
		Image:          client.Image,
		HTML:           strings.ReplaceAll(client.HomeHTML, "{faucetWallet}", s.wallet.Address()),
		CoinSymbol:     client.CoinSymbol,
		CoinType:       client.CoinType,
		CoinContract:   client.CoinContract,
		CoinDecimals:   client.CoinDecimals,
		MinClaim:       amountString(cfg.MinDropAmount),
		MaxClaim:       amountString(cfg.MaxDropAmount),
		SessionTimeout: int64(cfg.SessionTimeout / time.Second),
		TxExplorerLink: client.TxExplorerLink,
		Time:           time.Now().Unix(),
		ResultSharing:  resultSharing,
		Modules:        s.sessions.Hooks().ClientConfig(r.Context(), s.logger, sessionID),
	}, nil
}

func (s *Server) handleStartSession(r *http.Request, req *Request) (any, error) {
	if err := requirePost(r); err != nil {
		return nil, err
	}

	input, err := parseUserInput(req.Body)
	if err != nil {
		return failedResponse(nil, err), nil
	}

	remote := s.clientIP(r)
	sess, err := s.sessions.CreateSession(r.Context(), remote, input)
	if err != nil {
		return s.sessionError(nil, err, "startSession"), nil
	}
	if sess.Status() == session.StatusFailed {
		return failedResponse(sess, nil), nil
	}

	return &SessionResponse{
		Session: sess.ID(),
		Status:  sess.Status(),
		Tasks:   notifiedTasks(sess.BlockingTasks()),
		Balance: amountString(sess.DropAmount()),
		Target:  sess.TargetAddress(),
	}, nil
}

func (s *Server) handleClaimReward(r *http.Request, req *Request) (any, error) {
	if err := requirePost(r); err != nil {
		return nil, err
	}

	input, err := parseUserInput(req.Body)
	if err != nil {
		return failedResponse(nil, err), nil
	}

	sess, ok := s.sessions.GetSession(input.String("session"), session.StatusClaimable)
	if !ok {
		return nil, errSessionNotFound
	}

	if err := s.sessions.ClaimSession(r.Context(), sess, input); err != nil {
		return s.sessionError(sess, err, "claimReward"), nil
	}
	if sess.Status() == session.StatusFailed {
		return failedResponse(sess, nil), nil
	}

	return &SessionResponse{
		Session: sess.ID(),
		Status:  sess.Status(),
		Balance: amountString(sess.DropAmount()),
		Target:  sess.TargetAddress(),
	}, nil
}

func (s *Server) handleGetClaimStatus(r *http.Request, req *Request) (any, error) {
	rec, err := s.sessions.GetSessionRecord(r.Context(), req.Query.Get("session"))
	if errors.Is(err, session.ErrSessionNotFound) {
		return &UnknownClaimResponse{Status: "unknown", Error: "Session not found"}, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.Data.ClaimStatus == "" {
		return &UnknownClaimResponse{Status: "unknown", Error: "Session not claiming"}, nil
	}

	lastIdx, err := s.claims.LastProcessedIdx(r.Context())
	if err != nil {
		return nil, err
	}

	return &ClaimStatusResponse{
		Status:   string(rec.Data.ClaimStatus),
		QueueIdx: rec.Data.ClaimQueueIdx,
		TxHash:   rec.Data.ClaimTxHash,
		TxBlock:  rec.Data.ClaimTxBlock,
		LastIdx:  lastIdx,
	}, nil
}

func (s *Server) handleGetSessionStatus(r *http.Request, req *Request) (any, error) {
	rec, err := s.sessions.GetSessionRecord(r.Context(), req.Query.Get("session"))
	if errors.Is(err, session.ErrSessionNotFound) {
		return nil, errSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// sessionError turns a manager error into a FAILED response. Unexpected
// errors are logged and reported as INTERNAL_ERROR.
func (s *Server) sessionError(sess *session.Session, err error, endpoint string) *SessionResponse {
	if !session.IsFaucetError(err) {
		logger := s.logger.Error().Err(err).Str(logging.FieldEndpoint, endpoint)
		if sess != nil {
			logger = logger.Str(logging.FieldSessionID, sess.ID())
		}
		logger.Msg("session operation failed")
	}
	fe := session.ToFaucetError(err, "internal error")
	return &SessionResponse{
		Status:       session.StatusFailed,
		FailedCode:   fe.Code,
		FailedReason: fe.Reason,
	}
}

// failedResponse renders a failed session, or a bare failure when the
// request never produced one.
func failedResponse(sess *session.Session, err error) *SessionResponse {
	if sess == nil {
		fe := session.ToFaucetError(err, "invalid request")
		return &SessionResponse{
			Status:       session.StatusFailed,
			FailedCode:   fe.Code,
			FailedReason: fe.Reason,
		}
	}
	data := sess.Data()
	return &SessionResponse{
		Status:       session.StatusFailed,
		FailedCode:   data.FailedCode,
		FailedReason: data.FailedReason,
		Balance:      amountString(sess.DropAmount()),
		Target:       sess.TargetAddress(),
	}
}

func parseUserInput(body []byte) (*session.UserInput, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, session.NewFaucetError(session.CodeInvalidRequest, "missing request body")
	}
	input := &session.UserInput{}
	if err := json.Unmarshal(body, input); err != nil {
		return nil, session.NewFaucetError(session.CodeInvalidRequest, "invalid request body: %v", err)
	}
	return input, nil
}

func notifiedTasks(tasks []session.BlockingTask) []session.BlockingTask {
	out := make([]session.BlockingTask, 0, len(tasks))
	for _, task := range tasks {
		if task.NotifyClient {
			out = append(out, task)
		}
	}
	return out
}

// clientIP resolves the remote address, honouring proxy headers only when
// the server sits behind a trusted proxy.
func (s *Server) clientIP(r *http.Request) string {
	if s.config.TrustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
			return realIP
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
