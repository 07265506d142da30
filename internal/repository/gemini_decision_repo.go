package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"golang-backtest/config"
	"golang-backtest/internal/dto"
	"golang-backtest/internal/engine"
	"golang-backtest/pkg/httpclient"
	"golang-backtest/pkg/logger"
	"golang-backtest/pkg/ratelimit"
)

// geminiDecisionRepository asks a Gemini model for a trading decision. The
// model must answer in the strict JSON schema of dto.AIDecisionResponse; a
// reply that does not parse is an error for the caller to retry or degrade,
// never a guessed decision.
type geminiDecisionRepository struct {
	httpClient     httpclient.HTTPClient
	cfg            *config.Config
	voter          config.Voter
	logger         *logger.Logger
	tokenLimiter   *ratelimit.TokenLimiter
	requestLimiter *rate.Limiter
	genAiClient    *genai.Client
}

func NewGeminiDecisionRepository(cfg *config.Config, voter config.Voter, log *logger.Logger) (*geminiDecisionRepository, error) {
	secondsPerRequest := time.Minute / time.Duration(cfg.Gemini.MaxRequestPerMinute)
	requestLimiter := rate.NewLimiter(rate.Every(secondsPerRequest), 1)
	tokenLimiter := ratelimit.NewTokenLimiter(cfg.Gemini.MaxTokenPerMinute)

	genAiClient, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.Gemini.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &geminiDecisionRepository{
		httpClient:     httpclient.New(cfg.Gemini.BaseURL, cfg.Gemini.Timeout, ""),
		cfg:            cfg,
		voter:          voter,
		logger:         log,
		tokenLimiter:   tokenLimiter,
		requestLimiter: requestLimiter,
		genAiClient:    genAiClient,
	}, nil
}

func (r *geminiDecisionRepository) ID() string      { return r.voter.ID }
func (r *geminiDecisionRepository) Weight() float64 { return r.voter.Weight }

func (r *geminiDecisionRepository) model() string {
	if r.voter.Model != "" {
		return r.voter.Model
	}
	return r.cfg.Gemini.BaseModel
}

func (r *geminiDecisionRepository) Decide(ctx context.Context, dc engine.DecisionContext) (*engine.Decision, error) {
	parsed, err := r.ask(ctx, dc)
	if err != nil {
		return nil, err
	}
	decision, _, err := mapAIResponse(parsed, dc.Ticker)
	return decision, err
}

func (r *geminiDecisionRepository) Vote(ctx context.Context, dc engine.DecisionContext) (*dto.Ballot, error) {
	parsed, err := r.ask(ctx, dc)
	if err != nil {
		return nil, err
	}

	decision, tier, err := mapAIResponse(parsed, dc.Ticker)
	if err != nil {
		return nil, err
	}

	ballot := &dto.Ballot{
		Strategy: engine.StrategyVote{
			SourceID:   r.voter.ID,
			Weight:     r.voter.Weight,
			Action:     decision.Action,
			Confidence: decision.Confidence,
		},
		Risk: engine.RiskVote{
			SourceID: r.voter.ID,
			Weight:   r.voter.Weight,
			Tier:     tier,
		},
	}
	if decision.Action != engine.ActionHold {
		ballot.Proposal = decision
	}
	return ballot, nil
}

func (r *geminiDecisionRepository) ask(ctx context.Context, dc engine.DecisionContext) (*dto.AIDecisionResponse, error) {
	prompt := buildDecisionPrompt(dc)

	response, err := r.sendRequest(ctx, prompt)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to send request to gemini",
			logger.StringField("voter", r.voter.ID),
			logger.ErrorField(err),
		)
		return nil, fmt.Errorf("failed to send request to gemini: %w", err)
	}

	var parsed dto.AIDecisionResponse
	if err := r.parseResponse(response, &parsed); err != nil {
		r.logger.ErrorContext(ctx, "failed to parse response from gemini",
			logger.StringField("voter", r.voter.ID),
			logger.ErrorField(err),
		)
		return nil, fmt.Errorf("failed to parse response from gemini: %w", err)
	}
	return &parsed, nil
}

func (r *geminiDecisionRepository) sendRequest(ctx context.Context, prompt string) (*dto.GeminiAPIResponse, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, "user"),
	}
	tokenResp, err := r.genAiClient.Models.CountTokens(ctx, r.model(), contents, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to count tokens: %w", err)
	}

	r.logger.Debug("Gemini token count",
		logger.IntField("total_tokens", int(tokenResp.TotalTokens)),
		logger.IntField("remaining", r.tokenLimiter.GetRemaining()),
	)
	if err := r.tokenLimiter.Wait(ctx, int(tokenResp.TotalTokens)); err != nil {
		return nil, fmt.Errorf("failed to wait for gemini token limit: %w", err)
	}
	if err := r.requestLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for gemini request limit: %w", err)
	}

	payload := dto.GeminiAPIRequest{
		Contents: []dto.GeminiContent{{Parts: []dto.GeminiPart{{Text: prompt}}}},
	}

	apiURL := fmt.Sprintf("/%s:generateContent?key=%s", r.model(), r.cfg.Gemini.APIKey)

	apiResponse := dto.GeminiAPIResponse{}
	resp, err := r.httpClient.Post(ctx, apiURL, payload, nil, &apiResponse)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to gemini: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		r.logger.ErrorContext(ctx, "failed to get data from gemini",
			logger.IntField("status_code", resp.StatusCode))
		return nil, fmt.Errorf("gemini api returned status: %d", resp.StatusCode)
	}

	return &apiResponse, nil
}

func (r *geminiDecisionRepository) parseResponse(response *dto.GeminiAPIResponse, dest interface{}) error {
	if len(response.Candidates) == 0 || len(response.Candidates[0].Content.Parts) == 0 {
		return fmt.Errorf("invalid response from Gemini API: no content found")
	}

	jsonString := response.Candidates[0].Content.Parts[0].Text
	jsonString = strings.Trim(jsonString, "`json\n`")

	return json.Unmarshal([]byte(jsonString), dest)
}

// mapAIResponse converts the model's answer into engine types, rejecting
// anything outside the schema.
func mapAIResponse(parsed *dto.AIDecisionResponse, ticker string) (*engine.Decision, engine.RiskTier, error) {
	tier, err := engine.ParseRiskTier(parsed.RiskTier)
	if err != nil {
		return nil, tier, fmt.Errorf("model answered with bad risk tier: %w", err)
	}
	if parsed.Confidence < 0 || parsed.Confidence > 1 {
		return nil, tier, fmt.Errorf("model answered with confidence %.3f outside [0,1]", parsed.Confidence)
	}

	decision := &engine.Decision{
		Ticker:     ticker,
		LimitPrice: parsed.LimitPrice,
		StopLoss:   parsed.StopLoss,
		TakeProfit: parsed.TakeProfit,
		Confidence: parsed.Confidence,
		Rationale:  parsed.Rationale,
	}

	switch parsed.Action {
	case "BUY":
		if parsed.AmountUSD <= 0 {
			return nil, tier, fmt.Errorf("model answered BUY without amount_usd")
		}
		decision.Action = engine.ActionBuy
		decision.Amount = parsed.AmountUSD
	case "SELL":
		if parsed.SellPct <= 0 || parsed.SellPct > 100 {
			return nil, tier, fmt.Errorf("model answered SELL with sell_pct %.2f outside (0,100]", parsed.SellPct)
		}
		decision.Action = engine.ActionSell
		decision.Amount = parsed.SellPct
	case "HOLD":
		decision.Action = engine.ActionHold
	default:
		return nil, tier, fmt.Errorf("model answered with unknown action %q", parsed.Action)
	}

	return decision, tier, nil
}
