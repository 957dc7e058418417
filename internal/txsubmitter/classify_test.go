package txsubmitter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	require.Equal(t, OutcomeSuccess, classify(nil))
	require.Equal(t, OutcomeTimeout, classify(errors.New("rpc error: Tx timed out! after 30s")))
	require.Equal(t, OutcomeFailure, classify(errors.New("insufficient balance")))
}
