package domain

import (
	"errors"
	"testing"
)

func TestAccount_CanTransact(t *testing.T) {
	tests := []struct {
		name string
		acct Account
		want error
	}{
		{"open", Account{}, nil},
		{"locked", Account{Locked: true}, ErrLocked},
		{"transfer locked", Account{TransferLocked: true}, ErrTransferLocked},
		{"both prefers locked", Account{Locked: true, TransferLocked: true}, ErrLocked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.acct.CanTransact(); !errors.Is(got, tt.want) || (tt.want == nil && got != nil) {
				t.Errorf("CanTransact() = %v, want %v", got, tt.want)
			}
		})
	}
}
