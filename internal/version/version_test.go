package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetCurrentVersion(t *testing.T) {
	assert.Equal(t, DevVersion, GetCurrentVersion("dev"))
	assert.Equal(t, DevVersion, GetCurrentVersion("demo"))
	assert.Equal(t, Version, GetCurrentVersion("prod"))
}

// 测试版本字符串在有无构建元数据时的两种形态。
func TestString(t *testing.T) {
	restore := GitCommit
	t.Cleanup(func() { GitCommit = restore })

	GitCommit = "unknown"
	assert.Equal(t, Version, String())

	GitCommit = "0123456789abcdef"
	assert.Equal(t, Version+"-01234567", String())
}

func TestStringFull(t *testing.T) {
	restoreCommit, restoreTime := GitCommit, BuildTime
	t.Cleanup(func() {
		GitCommit = restoreCommit
		BuildTime = restoreTime
	})

	GitCommit = "unknown"
	BuildTime = "unknown"
	assert.Equal(t, "Version="+Version, StringFull())

	GitCommit = "0123456789abcdef"
	BuildTime = "2025-01-02T03:04:05Z"
	full := StringFull()
	assert.Contains(t, full, "Version="+Version)
	assert.Contains(t, full, "Commit=01234567")
	assert.Contains(t, full, "BuildTime=2025-01-02T03:04:05Z")
}
