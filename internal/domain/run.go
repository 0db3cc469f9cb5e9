package domain

import "fmt"

// RunStatus is the coarse lifecycle state of a run.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusSuspended RunStatus = "suspended"
	StatusCompleted RunStatus = "completed"
	StatusNoTrade   RunStatus = "no_trade"
	StatusRejected  RunStatus = "rejected"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is final and no further node may execute.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusNoTrade, StatusRejected, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Confirmation is the human decision injected while a run is suspended.
type Confirmation string

const (
	ConfirmationUnset    Confirmation = ""
	ConfirmationApproved Confirmation = "approved"
	ConfirmationRejected Confirmation = "rejected"
)

// ResearchReport is the digest produced by the research stage.
// Each retry attempt replaces the previous report entirely.
type ResearchReport struct {
	Report      string   `json:"report"`
	Learnings   []string `json:"learnings"`
	VisitedURLs []string `json:"visited_urls"`
	Confidence  float64  `json:"confidence"`
}

// AnalysisReport is the quantitative read produced by the analysis stage.
type AnalysisReport struct {
	Summary            string  `json:"analysis_summary"`
	PriceAnalysis      string  `json:"price_analysis"`
	VolumeAnalysis     string  `json:"volume_analysis"`
	LiquidityAnalysis  string  `json:"liquidity_analysis"`
	MarketDepth        string  `json:"market_depth"`
	ExecutionAnalysis  string  `json:"execution_analysis"`
	PriceMomentum      string  `json:"price_momentum"`
	RiskFactors        string  `json:"risk_factors"`
	Confidence         float64 `json:"confidence"`
}

// Reflection is the bookkeeping of one quality gate. AttemptCount increases
// monotonically within a run; it is never reset once its phase starts.
type Reflection struct {
	AttemptCount            int      `json:"attempt_count"`
	IsSatisfactory          bool     `json:"is_satisfactory"`
	Forced                  bool     `json:"forced,omitempty"`
	Reasons                 []string `json:"reasons,omitempty"`
	ImprovementInstructions string   `json:"improvement_instructions,omitempty"`
}

// ExecutionResult is the terminal record of an order submission.
type ExecutionResult struct {
	OrderID      string   `json:"order_id"`
	Status       string   `json:"status"`
	TakingAmount string   `json:"taking_amount"`
	MakingAmount string   `json:"making_amount"`
	TxHashes     []string `json:"tx_hashes"`
	Error        string   `json:"error,omitempty"`
	DryRun       bool     `json:"dry_run,omitempty"`
}

// RunState is the single mutable record threaded through every stage of a
// run. It is owned by the engine's driver loop: stages receive a read view
// and return a Delta which the engine applies atomically between nodes.
type RunState struct {
	RunID              string             `json:"run_id"`
	MarketID           string             `json:"market_id"`
	CustomInstructions string             `json:"custom_instructions,omitempty"`
	AvailableFunds     float64            `json:"available_funds"`
	Positions          map[string]float64 `json:"positions,omitempty"`
	DryRun             bool               `json:"dry_run,omitempty"`

	LoopStep int `json:"loop_step"`

	Market             *Market              `json:"market,omitempty"`
	Books              map[string]OrderBook `json:"books,omitempty"`
	RecentTrades       []Trade              `json:"recent_trades,omitempty"`
	Research           *ResearchReport      `json:"research,omitempty"`
	ResearchReflection Reflection           `json:"research_reflection"`
	Analysis           *AnalysisReport      `json:"analysis,omitempty"`
	AnalysisReflection Reflection           `json:"analysis_reflection"`
	TradeDecision      *TradeDecision       `json:"trade_decision,omitempty"`
	TradeReflection    Reflection           `json:"trade_reflection"`
	UserConfirmation   Confirmation         `json:"user_confirmation,omitempty"`
	ExecutionResult    *ExecutionResult     `json:"execution_result,omitempty"`
}

// Delta is the partial state update returned by a stage. Nil fields are
// untouched; non-nil fields replace the corresponding RunState field.
type Delta struct {
	Market             *Market
	Books              map[string]OrderBook
	RecentTrades       []Trade
	Research           *ResearchReport
	ResearchReflection *Reflection
	Analysis           *AnalysisReport
	AnalysisReflection *Reflection
	TradeDecision      *TradeDecision
	TradeReflection    *Reflection
	UserConfirmation   Confirmation
	ExecutionResult    *ExecutionResult
}

// Apply merges a delta into the state. The market snapshot is write-once:
// overwriting an existing snapshot is an engine bug and returns an error.
func (s *RunState) Apply(d Delta) error {
	if d.Market != nil {
		if s.Market != nil {
			return fmt.Errorf("domain.RunState.Apply: market is write-once")
		}
		s.Market = d.Market
	}
	if d.Books != nil {
		s.Books = d.Books
	}
	if d.RecentTrades != nil {
		s.RecentTrades = d.RecentTrades
	}
	if d.Research != nil {
		s.Research = d.Research
	}
	if d.ResearchReflection != nil {
		s.ResearchReflection = *d.ResearchReflection
	}
	if d.Analysis != nil {
		s.Analysis = d.Analysis
	}
	if d.AnalysisReflection != nil {
		s.AnalysisReflection = *d.AnalysisReflection
	}
	if d.TradeDecision != nil {
		s.TradeDecision = d.TradeDecision
	}
	if d.TradeReflection != nil {
		s.TradeReflection = *d.TradeReflection
	}
	if d.UserConfirmation != ConfirmationUnset {
		s.UserConfirmation = d.UserConfirmation
	}
	if d.ExecutionResult != nil {
		s.ExecutionResult = d.ExecutionResult
	}
	return nil
}

// HasPositions reports whether the run holds any position in this market.
func (s *RunState) HasPositions() bool {
	for _, size := range s.Positions {
		if size > 0 {
			return true
		}
	}
	return false
}
