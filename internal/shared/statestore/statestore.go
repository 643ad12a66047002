package statestore

import (
	"context"
	"encoding/json"
	"sync"
)

// Store é o contrato de persistência do engine: load(key) -> estado|nil, save(key, estado).
// Os valores trafegam como JSON; Load devolve false quando a chave não existe.
// Delete só é usado para desfazer uma criação que não se completou.
type Store interface {
	Load(ctx context.Context, key string, dst any) (bool, error)
	Save(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
}

// Memory guarda os snapshots serializados em um map (testes e ENV=local).
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory { return &Memory{data: make(map[string][]byte)} }

func (m *Memory) Load(_ context.Context, key string, dst any) (bool, error) {
	m.mu.RLock()
	b, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (m *Memory) Save(_ context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = b
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Nop descarta tudo; útil quando o chamador não quer persistência.
type Nop struct{}

func (Nop) Load(context.Context, string, any) (bool, error) { return false, nil }
func (Nop) Save(context.Context, string, any) error         { return nil }
func (Nop) Delete(context.Context, string) error            { return nil }
