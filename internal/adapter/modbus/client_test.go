package modbus

import (
	"context"
	"testing"
	"time"

	"github.com/nexus-edge/protolink-panel/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectTestClient(t *testing.T, srv *testServer) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		Address: srv.endpoint(t).Address(),
		UnitID:  1,
		Timeout: time.Second,
	}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(ClientConfig{UnitID: 1}, zerolog.Nop())
	assert.ErrorIs(t, err, domain.ErrConfig)

	_, err = NewClient(ClientConfig{Address: "127.0.0.1:502"}, zerolog.Nop())
	assert.ErrorIs(t, err, domain.ErrInvalidUnitID)

	c, err := NewClient(ClientConfig{Address: "127.0.0.1:502", UnitID: 1}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, c.config.Timeout)
	assert.False(t, c.IsConnected())
}

func TestClient_ReadInputRegisters(t *testing.T) {
	srv := newTestServer(t)
	srv.setFloat(2, 3.14)
	srv.setFloat(12, 12.5)
	client := connectTestClient(t, srv)
	before := time.Now()

	regs, err := client.ReadInputRegisters(2, 2)
	require.NoError(t, err)
	assert.False(t, client.LastUsed().Before(before))
	pair, err := RegisterPair(regs)
	require.NoError(t, err)
	assert.InDelta(t, 3.14, DecodeFloat32(pair, domain.WordOrderHighLow), 1e-6)

	regs, err = client.ReadInputRegisters(12, 2)
	require.NoError(t, err)
	pair, err = RegisterPair(regs)
	require.NoError(t, err)
	assert.Equal(t, float32(12.5), DecodeFloat32(pair, domain.WordOrderHighLow))
}

func TestClient_ReadBits(t *testing.T) {
	srv := newTestServer(t)
	srv.mu.Lock()
	srv.discrete = [8]bool{true, false, true, false}
	srv.coils = [8]bool{false, true, false, false}
	srv.mu.Unlock()
	client := connectTestClient(t, srv)

	di, err := client.ReadDiscreteInputs(0, 4)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true, false}, di)

	coils, err := client.ReadCoils(0, 4)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, false, false}, coils)
}

func TestClient_WriteSingleCoil(t *testing.T) {
	srv := newTestServer(t)
	client := connectTestClient(t, srv)

	require.NoError(t, client.WriteSingleCoil(2, true))
	assert.True(t, srv.coil(2))

	require.NoError(t, client.WriteSingleCoil(2, false))
	assert.False(t, srv.coil(2))

	assert.Equal(t, []byte{0x05, 0x05}, srv.functionCodes())
	assert.Equal(t, uint64(2), client.Stats().WriteCount)
}

func TestClient_ExceptionResponse(t *testing.T) {
	srv := newTestServer(t)
	srv.setException(0x04, 0x02)
	client := connectTestClient(t, srv)

	_, err := client.ReadInputRegisters(0, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal data address")
	assert.NotNil(t, client.LastError())

	stats := client.Stats()
	assert.Equal(t, uint64(1), stats.ErrorCount)
	assert.NotEmpty(t, stats.LastError)
	assert.Equal(t, client.Address(), stats.Address)
	assert.True(t, stats.Connected)
	assert.False(t, stats.LastUsed.IsZero())
}

func TestClient_Closed(t *testing.T) {
	srv := newTestServer(t)
	client := connectTestClient(t, srv)

	require.NoError(t, client.Close())
	assert.False(t, client.IsConnected())
	assert.NoError(t, client.Close())

	_, err := client.ReadCoils(0, 4)
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	assert.ErrorIs(t, client.WriteSingleCoil(0, true), domain.ErrNotConnected)
}

func TestClient_ConnectRefused(t *testing.T) {
	client, err := NewClient(ClientConfig{Address: refusedAddress(t), UnitID: 1, Timeout: time.Second}, zerolog.Nop())
	require.NoError(t, err)

	err = client.Connect(context.Background())
	assert.ErrorIs(t, err, domain.ErrConnect)
	assert.False(t, client.IsConnected())
}

func TestExceptionText(t *testing.T) {
	assert.Equal(t, "illegal function", exceptionText(0x01))
	assert.Equal(t, "slave device busy", exceptionText(0x06))
	assert.Equal(t, "unknown exception", exceptionText(0x7F))
}
