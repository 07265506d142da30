package dto

type GeminiAPIRequest struct {
	Contents []GeminiContent `json:"contents"`
}

type GeminiContent struct {
	Parts []GeminiPart `json:"parts"`
}

type GeminiPart struct {
	Text string `json:"text"`
}

type GeminiAPIResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// AIDecisionResponse is the strict schema the model must answer with. A
// reply that fails to unmarshal into it is an error, never a partial parse.
type AIDecisionResponse struct {
	Action     string  `json:"action"`
	AmountUSD  float64 `json:"amount_usd,omitempty"`
	SellPct    float64 `json:"sell_pct,omitempty"`
	LimitPrice float64 `json:"limit_price,omitempty"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
	Confidence float64 `json:"confidence"`
	RiskTier   string  `json:"risk_tier"`
	Rationale  string  `json:"rationale"`
}
