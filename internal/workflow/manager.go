// Package workflow 管理任务之间的依赖（DAG）。
// 一个任务完成后，依赖它的任务会被解锁并携带上游结果继续提交。
package workflow

import (
	"fmt"
	"sync"

	"github.com/vidinsight-labs/Axion/pkg/types"
)

// upstreamResultsKey 是注入依赖结果时使用的参数键。
const upstreamResultsKey = "upstream_results"

// Manager 跟踪任务依赖并在依赖满足时释放任务。
type Manager struct {
	mu sync.Mutex

	// tasks 记录所有已登记但尚未释放的任务
	tasks map[string]*types.Task

	// registered 记录所有登记过的任务 id（包括已释放的）
	registered map[string]struct{}

	// dependents 是反向索引：task_id -> 依赖它的任务 id 列表
	dependents map[string][]string

	// waiting 记录每个任务尚未完成的依赖数
	waiting map[string]int

	// results 保存已完成任务的结果（用于向下游传递数据）
	results map[string]*types.Result
}

// NewManager 创建一个空的依赖管理器。
func NewManager() *Manager {
	return &Manager{
		tasks:      make(map[string]*types.Task),
		registered: make(map[string]struct{}),
		dependents: make(map[string][]string),
		waiting:    make(map[string]int),
		results:    make(map[string]*types.Result),
	}
}

// Add 登记一组任务并返回立即可运行（无依赖）的任务。
// 依赖必须指向组内任务或之前通过 Add 登记过的任务（无论是否已完成）。
func (m *Manager) Add(tasks []*types.Task) ([]*types.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	known := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		known[t.ID] = struct{}{}
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if _, ok := known[dep]; ok {
				continue
			}
			if _, ok := m.registered[dep]; ok {
				continue
			}
			return nil, fmt.Errorf("task %s depends on unknown task %s", t.ID, dep)
		}
	}

	var ready []*types.Task
	for _, t := range tasks {
		m.tasks[t.ID] = t
		m.registered[t.ID] = struct{}{}
		pending := 0
		for _, dep := range t.Dependencies {
			if _, done := m.results[dep]; done {
				continue
			}
			pending++
			m.dependents[dep] = append(m.dependents[dep], t.ID)
		}
		if pending == 0 {
			m.injectUpstreamLocked(t)
			ready = append(ready, t)
			delete(m.tasks, t.ID)
		} else {
			m.waiting[t.ID] = pending
		}
	}
	return ready, nil
}

// TaskCompleted 记录一个结果并返回因此解锁的任务。
// 解锁任务的 params 会带上 upstream_results：{依赖任务 id: 数据}。
func (m *Manager) TaskCompleted(res *types.Result) []*types.Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, seen := m.results[res.TaskID]; seen {
		return nil
	}
	m.results[res.TaskID] = res

	var released []*types.Task
	for _, depID := range m.dependents[res.TaskID] {
		count, ok := m.waiting[depID]
		if !ok {
			continue
		}
		count--
		if count > 0 {
			m.waiting[depID] = count
			continue
		}
		delete(m.waiting, depID)
		task := m.tasks[depID]
		delete(m.tasks, depID)
		m.injectUpstreamLocked(task)
		released = append(released, task)
	}
	delete(m.dependents, res.TaskID)
	return released
}

// injectUpstreamLocked 把所有依赖结果写进任务参数。
func (m *Manager) injectUpstreamLocked(task *types.Task) {
	if len(task.Dependencies) == 0 {
		return
	}
	upstream, _ := task.Params[upstreamResultsKey].(map[string]any)
	if upstream == nil {
		upstream = make(map[string]any)
	}
	for _, dep := range task.Dependencies {
		if res, ok := m.results[dep]; ok {
			upstream[dep] = res.Data
		}
	}
	task.Params[upstreamResultsKey] = upstream
}

// WaitingCount 返回仍在等待依赖的任务数。
func (m *Manager) WaitingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiting)
}
