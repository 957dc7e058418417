// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package txsubmitter is the outbound transaction-submitter collaborator:
// it posts signed messages to the chain's transaction pool and reports
// back a tagged outcome instead of a bare error, so the sequencer never
// has to pattern-match error strings (see classify.go for where the one
// legacy string match this replaces is contained).
package txsubmitter

import (
	"context"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/google/uuid"
)

// Outcome classifies the result of a submission.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTimeout
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "failure"
	}
}

// SubmitResult is the tagged result of a submission attempt.
type SubmitResult struct {
	CorrelationID uuid.UUID
	Outcome       Outcome
	Err           error // nil on OutcomeSuccess
}

// SignedMessage is the opaque payload submitted on a sender's behalf.
type SignedMessage struct {
	Sequence uint64
	Payload  []byte
}

// Submitter posts messages to an external transaction pool.
type Submitter interface {
	Submit(ctx context.Context, poolID uint64, msg SignedMessage) SubmitResult
}

// RPCSubmitter submits messages over a go-ethereum JSON-RPC client.
type RPCSubmitter struct {
	client *rpc.Client
}

// NewRPCSubmitter wraps an already-dialed RPC client.
func NewRPCSubmitter(client *rpc.Client) *RPCSubmitter {
	return &RPCSubmitter{client: client}
}

// Submit calls the remote sync_offchain_message method and classifies its
// result into a SubmitResult, generating a correlation ID so a later
// Completed event can be traced back to this exact attempt in logs.
func (s *RPCSubmitter) Submit(ctx context.Context, poolID uint64, msg SignedMessage) SubmitResult {
	id := uuid.New()
	var reply struct{}
	err := s.client.CallContext(ctx, &reply, "pha_syncOffchainMessage", poolID, msg.Sequence, msg.Payload)
	return SubmitResult{CorrelationID: id, Outcome: classify(err), Err: err}
}
