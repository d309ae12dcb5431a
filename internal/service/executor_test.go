package service

import "testing"

func TestExecuteResult_FailureRate(t *testing.T) {
	tests := []struct {
		name   string
		result *ExecuteResult
		want   float64
	}{
		{"nil result", nil, 0},
		{"empty batch", &ExecuteResult{}, 0},
		{"clean batch", &ExecuteResult{ItemsTotal: 40}, 0},
		{"quarter failed", &ExecuteResult{ItemsTotal: 40, ItemsFailed: 10}, 0.25},
		{"all failed", &ExecuteResult{ItemsTotal: 3, ItemsFailed: 3}, 1},
		{"failures without items", &ExecuteResult{ItemsFailed: 2}, 1},
		{"more failures than items", &ExecuteResult{ItemsTotal: 2, ItemsFailed: 5}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.FailureRate(); got != tt.want {
				t.Errorf("FailureRate() = %v, want %v", got, tt.want)
			}
		})
	}
}
