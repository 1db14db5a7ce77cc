package session

import (
	"sync"

	"go.uber.org/zap"

	"flowbot/internal/logger"
)

// AuthoringSession - состояние редактирования потока одним оператором. Не сохраняется в БД.
type AuthoringSession struct {
	FlowID     int64
	FlowName   string
	StepNumber int // Steps in the flow so far
	State      State
}

// SessionManager хранит сессии операторов. На одного оператора - одна сессия.
type SessionManager struct {
	sessions      map[int64]AuthoringSession
	sessionsMutex sync.RWMutex

	// Per-operator mutexes: one operator's events are handled sequentially
	operatorLocks      map[int64]*sync.Mutex
	operatorLocksMutex sync.Mutex
}

// NewSessionManager создает и возвращает новый экземпляр SessionManager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions:      make(map[int64]AuthoringSession),
		operatorLocks: make(map[int64]*sync.Mutex),
	}
}

// Get возвращает копию сессии оператора.
func (sm *SessionManager) Get(operatorID int64) (AuthoringSession, bool) {
	sm.sessionsMutex.RLock()
	defer sm.sessionsMutex.RUnlock()
	s, ok := sm.sessions[operatorID]
	return s, ok
}

// Put сохраняет сессию, заменяя предыдущую.
func (sm *SessionManager) Put(operatorID int64, s AuthoringSession) {
	sm.sessionsMutex.Lock()
	defer sm.sessionsMutex.Unlock()
	prev, existed := sm.sessions[operatorID]
	sm.sessions[operatorID] = s
	fields := []zap.Field{zap.Int64("operator", operatorID), zap.Int64("flow_id", s.FlowID)}
	if s.State != nil {
		fields = append(fields, zap.String("state", s.State.Name()))
	}
	if existed && prev.FlowID != s.FlowID {
		fields = append(fields, zap.Int64("replaced_flow_id", prev.FlowID))
	}
	logger.Debug("SessionManager.Put: сессия обновлена", fields...)
}

// Clear удаляет сессию оператора.
func (sm *SessionManager) Clear(operatorID int64) {
	sm.sessionsMutex.Lock()
	defer sm.sessionsMutex.Unlock()
	delete(sm.sessions, operatorID)
	logger.Debug("SessionManager.Clear: сессия удалена", zap.Int64("operator", operatorID))
}

// Lock захватывает мьютекс оператора и возвращает функцию освобождения.
func (sm *SessionManager) Lock(operatorID int64) func() {
	sm.operatorLocksMutex.Lock()
	mu, ok := sm.operatorLocks[operatorID]
	if !ok {
		mu = &sync.Mutex{}
		sm.operatorLocks[operatorID] = mu
	}
	sm.operatorLocksMutex.Unlock()

	mu.Lock()
	return mu.Unlock
}
