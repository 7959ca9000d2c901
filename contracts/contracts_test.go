package contracts

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInactivityContract(t *testing.T) {
	t.Parallel()

	doc, err := Inactivity()
	require.NoError(t, err)

	require.Len(t, doc.Servers, 1)
	require.Equal(t, "/api/v1", doc.Servers[0].URL)

	operations := map[string]string{
		"/inactivity/sweeps":                                  "POST",
		"/inactivity/notifications":                           "POST",
		"/inactivity/students/{studentId}/attendance-recorded": "POST",
		"/inactivity/students/{studentId}":                    "GET",
		"/jobs/health":                                        "GET",
	}
	for path, method := range operations {
		item := doc.Paths.Find(path)
		require.NotNil(t, item, path)
		require.NotNil(t, item.GetOperation(method), "%s %s", method, path)
	}

	presence := doc.Components.Schemas["PresenceState"].Value
	require.ElementsMatch(t, []any{"present", "late", "half_day", "absent", "early_departure"}, presence.Enum)
}
