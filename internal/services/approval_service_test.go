package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"agentpay-backend/internal/models"
	"agentpay-backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApprovalService(ttl time.Duration) *ApprovalService {
	return NewApprovalService(repository.NewMemoryApprovalRepository(), "test-secret", ttl, time.Minute)
}

func testSpec() TransferSpec {
	return TransferSpec{
		From:          testWallet,
		To:            testRecipient,
		Value:         "15000000000000000",
		Chain:         "sepolia",
		Nonce:         "1",
		PolicyID:      testWallet,
		PolicyVersion: 1,
	}
}

func TestDeterministicIDStable(t *testing.T) {
	spec := testSpec()
	assert.Equal(t, DeterministicID(spec), DeterministicID(spec))

	// casing of addresses must not change the fingerprint
	upper := spec
	upper.From = "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	assert.Equal(t, DeterministicID(spec), DeterministicID(upper))

	// a different nonce is a different logical request
	bumped := spec
	bumped.Nonce = "2"
	assert.NotEqual(t, DeterministicID(spec), DeterministicID(bumped))
}

func TestCreateIsIdempotent(t *testing.T) {
	svc := newApprovalService(time.Hour)

	first, err := svc.Create(context.Background(), testSpec(), "agent-1")
	require.NoError(t, err)

	second, err := svc.Create(context.Background(), testSpec(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Token, second.Token)
}

func TestCreateConcurrentConvergesToOneRecord(t *testing.T) {
	svc := newApprovalService(time.Hour)

	ids := make([]string, 10)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			approval, err := svc.Create(context.Background(), testSpec(), "agent-1")
			require.NoError(t, err)
			ids[i] = approval.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestDecideIsOneShot(t *testing.T) {
	svc := newApprovalService(time.Hour)
	approval, err := svc.Create(context.Background(), testSpec(), "agent-1")
	require.NoError(t, err)

	decided, err := svc.Decide(context.Background(), approval.ID, models.ApprovalStatusApproved, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, decided.Status)
	assert.Equal(t, "alice", decided.DecidedBy)

	_, err = svc.Decide(context.Background(), approval.ID, models.ApprovalStatusRejected, "bob")
	assert.ErrorIs(t, err, ErrApprovalAlreadyDecided)
}

func TestCreateAfterRejectNotActionable(t *testing.T) {
	svc := newApprovalService(time.Hour)
	approval, err := svc.Create(context.Background(), testSpec(), "agent-1")
	require.NoError(t, err)

	_, err = svc.Decide(context.Background(), approval.ID, models.ApprovalStatusRejected, "alice")
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), testSpec(), "agent-1")
	assert.ErrorIs(t, err, ErrApprovalNotActionable)
}

func TestLazyExpiryOnRead(t *testing.T) {
	svc := newApprovalService(10 * time.Millisecond)
	approval, err := svc.Create(context.Background(), testSpec(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusPending, approval.Status)

	time.Sleep(20 * time.Millisecond)

	read, err := svc.Get(context.Background(), approval.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusExpired, read.Status)

	_, err = svc.Decide(context.Background(), approval.ID, models.ApprovalStatusApproved, "alice")
	assert.ErrorIs(t, err, ErrApprovalExpired)
}

func TestRecordExecutionRequiresApprovedStatus(t *testing.T) {
	svc := newApprovalService(time.Hour)
	approval, err := svc.Create(context.Background(), testSpec(), "agent-1")
	require.NoError(t, err)

	err = svc.RecordExecution(context.Background(), approval.ID, "0xhash", "")
	assert.ErrorIs(t, err, ErrApprovalNotApproved)

	_, err = svc.Decide(context.Background(), approval.ID, models.ApprovalStatusApproved, "alice")
	require.NoError(t, err)

	require.NoError(t, svc.RecordExecution(context.Background(), approval.ID, "0xhash", ""))

	read, err := svc.Get(context.Background(), approval.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xhash", read.ExecTxHash)
	assert.True(t, read.Executed())

	// execution result is write-once
	err = svc.RecordExecution(context.Background(), approval.ID, "0xother", "")
	assert.Error(t, err)
}

func TestGetUnknownApproval(t *testing.T) {
	svc := newApprovalService(time.Hour)
	_, err := svc.Get(context.Background(), "deadbeef")
	assert.ErrorIs(t, err, ErrApprovalNotFound)
}
