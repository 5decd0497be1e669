package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/qihaolou/Foxel/db"
	"github.com/qihaolou/Foxel/fs"
	"github.com/qihaolou/Foxel/processor"
	"github.com/qihaolou/Foxel/task"
)

func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	s.reply(w, r, s.queue.All())
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, ok := s.queue.Get(id)
	if !ok {
		s.fail(w, r, errors.Wrapf(fs.ErrorNotFound, "task %q", id))
		return
	}
	s.reply(w, r, t)
}

// handleProcess enqueues a process_file task. With overwrite the output
// replaces the source, otherwise save_to names the destination.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path          string                 `json:"path"`
		ProcessorType string                 `json:"processor_type"`
		Config        map[string]interface{} `json:"config"`
		SaveTo        string                 `json:"save_to"`
		Overwrite     bool                   `json:"overwrite"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Path == "" {
		s.fail(w, r, errors.Wrap(fs.ErrorInvalidArgument, "path is required"))
		return
	}
	if _, err := processor.Find(req.ProcessorType); err != nil {
		s.fail(w, r, errors.Wrapf(fs.ErrorInvalidArgument, "processor %q", req.ProcessorType))
		return
	}
	saveTo := req.SaveTo
	if req.Overwrite {
		saveTo = req.Path
	}
	t := s.queue.Enqueue(task.NameProcessFile, map[string]interface{}{
		"path":           fs.NormalizePath(req.Path),
		"processor_type": req.ProcessorType,
		"config":         req.Config,
		"_save_to":       saveTo,
	})
	s.reply(w, r, t)
}

// ruleRequest is the AutomationRule create/update body. Pointer fields
// distinguish absent from zero so updates only touch what was sent.
type ruleRequest struct {
	Name            *string                `json:"name"`
	Event           *string                `json:"event"`
	PathPattern     *string                `json:"path_pattern"`
	FilenameRegex   *string                `json:"filename_regex"`
	ProcessorType   *string                `json:"processor_type"`
	ProcessorConfig map[string]interface{} `json:"processor_config"`
	Enabled         *bool                  `json:"enabled"`
}

func (req *ruleRequest) apply(rule *db.AutomationRule) {
	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Event != nil {
		rule.Event = *req.Event
	}
	if req.PathPattern != nil {
		rule.PathPattern = *req.PathPattern
	}
	if req.FilenameRegex != nil {
		rule.FilenameRegex = *req.FilenameRegex
	}
	if req.ProcessorType != nil {
		rule.ProcessorType = *req.ProcessorType
	}
	if req.ProcessorConfig != nil {
		rule.ProcessorConfig = db.JSONMap(req.ProcessorConfig)
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
}

func (s *Server) handleRuleList(w http.ResponseWriter, r *http.Request) {
	rules := []db.AutomationRule{}
	if err := s.gdb.WithContext(r.Context()).Order("id").Find(&rules).Error; err != nil {
		s.fail(w, r, errors.Wrap(err, "listing rules"))
		return
	}
	s.reply(w, r, rules)
}

func (s *Server) handleRuleCreate(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Name == nil || *req.Name == "" {
		s.fail(w, r, errors.Wrap(fs.ErrorInvalidArgument, "name is required"))
		return
	}
	if req.Event == nil || *req.Event == "" {
		s.fail(w, r, errors.Wrap(fs.ErrorInvalidArgument, "event is required"))
		return
	}
	rule := db.AutomationRule{Enabled: true, ProcessorConfig: db.JSONMap{}}
	req.apply(&rule)
	if err := s.gdb.WithContext(r.Context()).Create(&rule).Error; err != nil {
		s.fail(w, r, errors.Wrap(err, "creating rule"))
		return
	}
	fs.Infof(nil, "automation rule %d (%s) created", rule.ID, rule.Name)
	s.reply(w, r, rule)
}

func (s *Server) loadRule(r *http.Request) (*db.AutomationRule, error) {
	id, err := idParam(r)
	if err != nil {
		return nil, err
	}
	var rule db.AutomationRule
	if err := s.gdb.WithContext(r.Context()).First(&rule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(fs.ErrorNotFound, "rule %d", id)
		}
		return nil, errors.Wrap(err, "loading rule")
	}
	return &rule, nil
}

func (s *Server) handleRuleGet(w http.ResponseWriter, r *http.Request) {
	rule, err := s.loadRule(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.reply(w, r, rule)
}

func (s *Server) handleRuleUpdate(w http.ResponseWriter, r *http.Request) {
	rule, err := s.loadRule(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req ruleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	req.apply(rule)
	if err := s.gdb.WithContext(r.Context()).Save(rule).Error; err != nil {
		s.fail(w, r, errors.Wrap(err, "updating rule"))
		return
	}
	fs.Infof(nil, "automation rule %d (%s) updated", rule.ID, rule.Name)
	s.reply(w, r, rule)
}

func (s *Server) handleRuleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res := s.gdb.WithContext(r.Context()).Delete(&db.AutomationRule{}, id)
	if res.Error != nil {
		s.fail(w, r, errors.Wrap(res.Error, "deleting rule"))
		return
	}
	if res.RowsAffected == 0 {
		s.fail(w, r, errors.Wrapf(fs.ErrorNotFound, "rule %d", id))
		return
	}
	fs.Infof(nil, "automation rule %d deleted", id)
	s.reply(w, r, map[string]interface{}{"deleted": true})
}

func (s *Server) handleProcessorList(w http.ResponseWriter, r *http.Request) {
	out := make([]map[string]interface{}, 0, len(processor.Registry))
	for _, ri := range processor.Registry {
		exts := ri.SupportedExts
		if exts == nil {
			exts = []string{}
		}
		out = append(out, map[string]interface{}{
			"type":           ri.Type,
			"name":           ri.Name,
			"supported_exts": exts,
			"config_schema":  ri.Options,
			"produces_file":  ri.ProducesFile,
		})
	}
	s.reply(w, r, out)
}
