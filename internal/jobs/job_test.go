package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Doubles(t *testing.T) {
	base := 2 * time.Second
	assert.Equal(t, 2*time.Second, Backoff(base, 1))
	assert.Equal(t, 4*time.Second, Backoff(base, 2))
	assert.Equal(t, 8*time.Second, Backoff(base, 3))
	assert.Equal(t, 2*time.Second, Backoff(base, 0), "attempt clamps to 1")
}

func TestValidate(t *testing.T) {
	ok := []Job{
		{ID: "1", Type: TypeCreateOrder, OrderData: &OrderData{UserID: "u", Items: []ItemInput{{ProductID: "p", Qty: 1}}}},
		{ID: "2", Type: TypeUpdateStatus, OrderID: "o", NewStatus: "confirmed"},
		{ID: "3", Type: TypeProcessPayment, OrderID: "o", PaymentData: &PaymentData{Succeeded: true}},
	}
	for _, j := range ok {
		assert.NoError(t, j.Validate(), "job %s", j.ID)
	}

	bad := []Job{
		{ID: "4", Type: TypeCreateOrder},
		{ID: "5", Type: TypeUpdateStatus, OrderID: "o"},
		{ID: "6", Type: TypeProcessPayment, OrderID: "o"},
		{ID: "7", Type: Type("reindex")},
	}
	for _, j := range bad {
		assert.Error(t, j.Validate(), "job %s", j.ID)
	}
}

func TestPartitionKey_PrefersOrderID(t *testing.T) {
	assert.Equal(t, []byte("o1"), PartitionKey(Job{ID: "j1", OrderID: "o1"}))
	assert.Equal(t, []byte("j1"), PartitionKey(Job{ID: "j1"}))
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "jobs.create-order", Topic(TypeCreateOrder))
}
