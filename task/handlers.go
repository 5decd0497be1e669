package task

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/qihaolou/Foxel/db"
	"github.com/qihaolou/Foxel/vfs"
)

// Task names the queue dispatches on.
const (
	NameProcessFile = "process_file"
	NameAutomation  = "automation_task"
)

func infoString(info map[string]interface{}, key string) (string, error) {
	v, ok := info[key]
	if !ok {
		return "", errors.Errorf("task info is missing %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.Errorf("task info %q is not a string", key)
	}
	return s, nil
}

// infoID reads a numeric id which may arrive as uint when enqueued
// in-process or as float64 after a JSON round trip.
func infoID(info map[string]interface{}, key string) (uint, error) {
	switch v := info[key].(type) {
	case uint:
		return v, nil
	case int:
		return uint(v), nil
	case int64:
		return uint(v), nil
	case float64:
		return uint(v), nil
	case nil:
		return 0, errors.Errorf("task info is missing %q", key)
	default:
		return 0, errors.Errorf("task info %q is not a number", key)
	}
}

// ProcessFileHandler runs one ad-hoc processor invocation through the
// facade.
func ProcessFileHandler(v *vfs.VFS) Handler {
	return func(ctx context.Context, info map[string]interface{}) (interface{}, error) {
		path, err := infoString(info, "path")
		if err != nil {
			return nil, err
		}
		processorType, err := infoString(info, "processor_type")
		if err != nil {
			return nil, err
		}
		config, _ := info["config"].(map[string]interface{})
		saveTo, _ := info["save_to"].(string)
		return v.ProcessFile(ctx, path, processorType, config, saveTo)
	}
}

// AutomationHandler runs a matched automation rule against the path
// that triggered it. The rule is reloaded by id so edits made between
// enqueue and execution take effect.
func AutomationHandler(gdb *gorm.DB, v *vfs.VFS) Handler {
	return func(ctx context.Context, info map[string]interface{}) (interface{}, error) {
		id, err := infoID(info, "rule_id")
		if err != nil {
			return nil, err
		}
		path, err := infoString(info, "path")
		if err != nil {
			return nil, err
		}
		var rule db.AutomationRule
		if err := gdb.WithContext(ctx).First(&rule, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, errors.Errorf("automation rule %d not found", id)
			}
			return nil, errors.Wrapf(err, "loading automation rule %d", id)
		}
		saveTo, _ := rule.ProcessorConfig["save_to"].(string)
		if _, err := v.ProcessFile(ctx, path, rule.ProcessorType, map[string]interface{}(rule.ProcessorConfig), saveTo); err != nil {
			return nil, errors.Wrapf(err, "rule %d (%s) on %q", rule.ID, rule.Name, path)
		}
		return "Automation task completed", nil
	}
}
