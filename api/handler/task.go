package handler

import (
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/donote/api/transport"
	"github.com/fastygo/donote/domain"
	"github.com/fastygo/donote/pkg/httpcontext"
	"github.com/fastygo/donote/usecase/dashboard"
)

// Task list views.
const (
	ViewAll       = "all"
	ViewOpen      = "open"
	ViewCompleted = "completed"
)

type TaskHandler struct {
	baseHandler
}

func NewTaskHandler(adapter *httpcontext.Adapter, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{baseHandler: newBaseHandler(adapter, logger)}
}

// @Summary List tasks by due date
// @Tags tasks
// @Param view query string false "open, completed or all"
// @Router /api/v1/tasks [get]
func (h *TaskHandler) GetTasks(ctx *fasthttp.RequestCtx) {
	st, ok := h.store(ctx)
	if !ok {
		return
	}

	view := string(ctx.QueryArgs().Peek("view"))
	if view == "" {
		view = ViewAll
	}
	tasks := st.Tasks()
	var selected []domain.Task
	switch view {
	case ViewAll:
		selected = dashboard.SortByDueDate(tasks)
	case ViewOpen:
		selected, _ = dashboard.SplitByCompletion(tasks)
	case ViewCompleted:
		_, selected = dashboard.SplitByCompletion(tasks)
	default:
		h.respondError(ctx, domain.NewValidationError(map[string]string{"view": "view must be one of open, completed, all"}))
		return
	}

	today := st.Today()
	out := make([]transport.TaskView, 0, len(selected))
	for _, task := range selected {
		out = append(out, transport.TaskView{Task: task, Overdue: dashboard.IsOverdue(task, today)})
	}
	h.respondList(ctx, out, transport.ListMeta{View: view, Count: len(out)})
}

// @Summary Create task
// @Tags tasks
// @Router /api/v1/tasks [post]
func (h *TaskHandler) CreateTask(ctx *fasthttp.RequestCtx) {
	st, ok := h.store(ctx)
	if !ok {
		return
	}
	var req transport.TaskRequest
	if !h.decode(ctx, &req) {
		return
	}
	draft, err := req.ToDraft()
	if err != nil {
		h.respondError(ctx, err)
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	id, err := st.AddTask(stdCtx, draft)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondAccepted(ctx, id)
}

// @Summary Update task fields
// @Tags tasks
// @Router /api/v1/tasks/{id} [patch]
func (h *TaskHandler) UpdateTask(ctx *fasthttp.RequestCtx) {
	st, ok := h.store(ctx)
	if !ok {
		return
	}
	var req transport.TaskPatchRequest
	if !h.decode(ctx, &req) {
		return
	}
	patch, err := req.ToPatch()
	if err != nil {
		h.respondError(ctx, err)
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	id := pathID(ctx)
	if err := st.UpdateTask(stdCtx, id, patch); err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondAccepted(ctx, id)
}

// @Summary Toggle task completion
// @Tags tasks
// @Router /api/v1/tasks/{id}/toggle [post]
func (h *TaskHandler) ToggleTask(ctx *fasthttp.RequestCtx) {
	st, ok := h.store(ctx)
	if !ok {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	id := pathID(ctx)
	if err := st.ToggleTaskCompletion(stdCtx, id); err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondAccepted(ctx, id)
}

// @Summary Delete task
// @Tags tasks
// @Router /api/v1/tasks/{id} [delete]
func (h *TaskHandler) DeleteTask(ctx *fasthttp.RequestCtx) {
	st, ok := h.store(ctx)
	if !ok {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	id := pathID(ctx)
	if err := st.DeleteTask(stdCtx, id); err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondAccepted(ctx, id)
}
