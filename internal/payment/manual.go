package payment

import (
	"context"
	"fmt"
	"time"
)

// ManualProvider records cash and bank transfers taken outside any network.
type ManualProvider struct {
	now func() time.Time
}

func NewManualProvider() *ManualProvider {
	return &ManualProvider{now: time.Now}
}

func (p *ManualProvider) Name() string { return "manual" }

func (p *ManualProvider) Charge(_ context.Context, req ChargeRequest) (Result, error) {
	ref := req.Reference
	if ref == "" {
		ref = fmt.Sprintf("manual-%d", p.now().UnixMilli())
	}
	return Result{Success: true, TransactionID: ref}, nil
}
