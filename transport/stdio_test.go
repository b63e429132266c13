package transport

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/viant/jsonrpc"
)

func TestStdio_Send(t *testing.T) {
	// Responds to the first request, skipping a noise line first, then keeps
	// the pipe open until stdin closes.
	script := `read line
echo 'starting up, not JSON'
echo '{"jsonrpc":"2.0","id":1,"result":{"pong":true}}'
cat >/dev/null`

	aTransport, err := NewStdio(StdioConfig{Command: "sh", Args: []string{"-c", script}, Env: environFromOS()})
	if !assert.Nil(t, err) {
		return
	}
	defer aTransport.Close()

	request, _ := jsonrpc.NewRequest("ping", map[string]string{})
	response, err := aTransport.Send(context.Background(), request)
	if !assert.Nil(t, err) {
		return
	}
	assert.Equal(t, `{"pong":true}`, string(response.Result))
}

func TestStdio_SendContextCancelled(t *testing.T) {
	aTransport, err := NewStdio(StdioConfig{Command: "sh", Args: []string{"-c", "cat >/dev/null"}, Env: environFromOS()})
	if !assert.Nil(t, err) {
		return
	}
	defer aTransport.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	request, _ := jsonrpc.NewRequest("ping", map[string]string{})
	_, err = aTransport.Send(ctx, request)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStdio_CloseAfterCancelledSend(t *testing.T) {
	// The child answers only after the caller has given up; Close must drain
	// the late output to completion before reaping the process.
	script := `read line
sleep 1
echo '{"jsonrpc":"2.0","id":1,"result":{}}'`
	aTransport, err := NewStdio(StdioConfig{Command: "sh", Args: []string{"-c", script}, Env: environFromOS()})
	if !assert.Nil(t, err) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	request, _ := jsonrpc.NewRequest("ping", map[string]string{})
	_, err = aTransport.Send(ctx, request)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Nil(t, aTransport.Close())
}

func TestStdio_Errlog(t *testing.T) {
	errlog := &lockedBuffer{}
	script := `echo 'diagnostic line' >&2
cat >/dev/null`
	aTransport, err := NewStdio(StdioConfig{
		Command: "sh",
		Args:    []string{"-c", script},
		Env:     environFromOS(),
		Errlog:  errlog,
	})
	if !assert.Nil(t, err) {
		return
	}
	assert.Nil(t, aTransport.Close())
	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(errlog.String()), []byte("diagnostic line"))
	}, 2*time.Second, 20*time.Millisecond)
}

func TestStdio_CloseIdempotent(t *testing.T) {
	aTransport, err := NewStdio(StdioConfig{Command: "sh", Args: []string{"-c", "cat >/dev/null"}, Env: environFromOS()})
	if !assert.Nil(t, err) {
		return
	}
	assert.Nil(t, aTransport.Close())
	assert.Nil(t, aTransport.Close())

	request, _ := jsonrpc.NewRequest("ping", map[string]string{})
	_, err = aTransport.Send(context.Background(), request)
	assert.NotNil(t, err)
}

func TestEnviron(t *testing.T) {
	actual := environ(map[string]string{"B": "2", "A": "1", "PATH": "/bin"})
	assert.Equal(t, []string{"A=1", "B=2", "PATH=/bin"}, actual)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func environFromOS() map[string]string {
	return map[string]string{"PATH": "/usr/local/bin:/usr/bin:/bin"}
}
