package messages

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOrderUpdated_AllFieldsAlwaysSerialized(t *testing.T) {
	// Переход в нулевое состояние не должен кодироваться иначе, чем любой другой.
	b, err := json.Marshal(OrderUpdated{OrderID: 1})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	for _, k := range []string{"order_id", "checked_at", "old_status", "new_status", "votes_delivered"} {
		require.Contains(t, m, k)
	}
}
