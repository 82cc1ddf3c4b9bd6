package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	corelog "ndlp-proxy/internal/core/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncer_Coalesces(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	var calls atomic.Int32
	for i := 0; i < 5; i++ {
		d.Trigger(func() { calls.Add(1) })
		time.Sleep(5 * time.Millisecond)
	}
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDebouncer_Stop(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	var calls atomic.Int32
	d.Trigger(func() { calls.Add(1) })
	d.Stop()
	d.Trigger(func() { calls.Add(1) })
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestWatcher_NotifiesPerFile(t *testing.T) {
	dir := t.TempDir()
	local := writeFile(t, dir, "Local.json", `{}`)
	mode := writeFile(t, dir, "NdlpConfig.json", `{}`)

	w, err := NewWatcher(20*time.Millisecond, corelog.NewTestLogger(t))
	require.NoError(t, err)
	defer w.Close()

	localCh, err := w.Add(local)
	require.NoError(t, err)
	modeCh, err := w.Add(mode)
	require.NoError(t, err)

	again, err := w.Add(local)
	require.NoError(t, err)
	assert.Equal(t, localCh, again)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// 原子替换
	tmp := filepath.Join(dir, ".Local.json.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(`{"icap": {"threadCnt": 2}}`), 0o644))
	require.NoError(t, os.Rename(tmp, local))

	select {
	case <-localCh:
	case <-time.After(2 * time.Second):
		t.Fatal("no notification for Local.json")
	}

	select {
	case <-modeCh:
		t.Fatal("unrelated file must not be notified")
	case <-time.After(100 * time.Millisecond):
	}

	// 无关文件不触发
	writeFile(t, dir, "other.json", `{}`)
	select {
	case <-localCh:
		t.Fatal("unexpected notification")
	case <-time.After(100 * time.Millisecond):
	}
}
