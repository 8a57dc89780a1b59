package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeDup(t *testing.T) {
	ts := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	d := NewDeDup(time.Hour)
	d.now = func() time.Time { return ts }

	assert.True(t, d.Add("job1"), "passed, first time")
	assert.False(t, d.Add("job1"), "failed, dup")
	assert.True(t, d.Add("job2"), "passed, different job")
	d.Remove("job1")
	assert.True(t, d.Add("job1"), "passed, removed before")

	ts = ts.Add(time.Hour)
	assert.True(t, d.Add("job2"), "passed, window is over")
	assert.False(t, d.Add("job2"), "failed, dup in the new window")
}

func TestDeDupDisabled(t *testing.T) {
	d := NewDeDup(0)
	assert.True(t, d.Add("job1"))
	assert.True(t, d.Add("job1"))
	d.Remove("job1")
	assert.True(t, d.Add("job1"))

	var nd *DeDup
	assert.True(t, nd.Add("job1"))
	assert.True(t, nd.Add("job1"))
	nd.Remove("job1")
}
