package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllTables(t *testing.T) {
	tables := AllTables()
	assert.Len(t, tables, 4)

	for _, name := range []string{"detections", "training_runs", "training_samples", "device_registry"} {
		found := false
		for _, sql := range tables {
			if strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+name+" (") {
				found = true
			}
		}
		assert.True(t, found, "missing table %s", name)
	}
}
