package domain

import "testing"

func TestDirectionSign(t *testing.T) {
	tests := []struct {
		dir  Direction
		want float64
	}{
		{DirectionBuy, 1},
		{DirectionSell, -1},
	}
	for _, tt := range tests {
		if got := tt.dir.Sign(); got != tt.want {
			t.Errorf("%s.Sign() = %v, want %v", tt.dir, got, tt.want)
		}
	}
}

func TestDirectionFromSign(t *testing.T) {
	tests := []struct {
		v    float64
		want Direction
	}{
		{1.5, DirectionBuy},
		{0, DirectionBuy},
		{-0.5, DirectionSell},
	}
	for _, tt := range tests {
		if got := DirectionFromSign(tt.v); got != tt.want {
			t.Errorf("DirectionFromSign(%v) = %s, want %s", tt.v, got, tt.want)
		}
	}
}

func TestOnchainTradeSignedAmount(t *testing.T) {
	buy := OnchainTrade{Amount: 2.5, Direction: DirectionBuy}
	if got := buy.SignedAmount(); got != 2.5 {
		t.Errorf("buy SignedAmount() = %v, want 2.5", got)
	}

	sell := OnchainTrade{Amount: 2.5, Direction: DirectionSell}
	if got := sell.SignedAmount(); got != -2.5 {
		t.Errorf("sell SignedAmount() = %v, want -2.5", got)
	}
}

func TestExecutionCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from ExecutionStatus
		to   ExecutionStatus
		want bool
	}{
		{"pending to submitted", ExecutionPending, ExecutionSubmitted, true},
		{"pending to failed", ExecutionPending, ExecutionFailed, true},
		{"pending to filled", ExecutionPending, ExecutionFilled, false},
		{"submitted to filled", ExecutionSubmitted, ExecutionFilled, true},
		{"submitted to failed", ExecutionSubmitted, ExecutionFailed, true},
		{"submitted to pending", ExecutionSubmitted, ExecutionPending, false},
		{"filled to anything", ExecutionFilled, ExecutionSubmitted, false},
		{"failed to anything", ExecutionFailed, ExecutionSubmitted, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Execution{Status: tt.from}
			if got := e.CanTransition(tt.to); got != tt.want {
				t.Errorf("%s -> %s: CanTransition = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestExecutionIsTerminal(t *testing.T) {
	if (Execution{Status: ExecutionPending}).IsTerminal() {
		t.Error("pending should not be terminal")
	}
	if (Execution{Status: ExecutionSubmitted}).IsTerminal() {
		t.Error("submitted should not be terminal")
	}
	if !(Execution{Status: ExecutionFilled}).IsTerminal() {
		t.Error("filled should be terminal")
	}
	if !(Execution{Status: ExecutionFailed}).IsTerminal() {
		t.Error("failed should be terminal")
	}
}

func TestEnqueueOutcomeString(t *testing.T) {
	if Inserted.String() != "inserted" {
		t.Errorf("Inserted.String() = %q, want %q", Inserted.String(), "inserted")
	}
	if Duplicate.String() != "duplicate" {
		t.Errorf("Duplicate.String() = %q, want %q", Duplicate.String(), "duplicate")
	}
}
