package task

import (
	"context"
	"path"
	"regexp"
	"strings"

	"gorm.io/gorm"

	"github.com/qihaolou/Foxel/db"
	"github.com/qihaolou/Foxel/fs"
)

// Automation matches filesystem events against the automation rules
// and enqueues a task per match.
type Automation struct {
	gdb   *gorm.DB
	queue *Queue
}

// NewAutomation returns a matcher feeding q.
func NewAutomation(gdb *gorm.DB, q *Queue) *Automation {
	return &Automation{gdb: gdb, queue: q}
}

// String converts this Automation to a string for logging.
func (a *Automation) String() string { return "automation" }

// HandleEvent is the facade event hook. Rules are read per event, so
// edits take effect immediately.
func (a *Automation) HandleEvent(ctx context.Context, event, eventPath string) {
	var rules []db.AutomationRule
	err := a.gdb.WithContext(ctx).Where("event = ? AND enabled = ?", event, true).Find(&rules).Error
	if err != nil {
		fs.Errorf(a, "loading rules for event %s: %v", event, err)
		return
	}
	for _, rule := range rules {
		if !ruleMatches(&rule, eventPath) {
			continue
		}
		fs.Infof(a, "rule %d (%s) matched %q", rule.ID, rule.Name, eventPath)
		a.queue.Enqueue(NameAutomation, map[string]interface{}{
			"rule_id": rule.ID,
			"path":    eventPath,
		})
	}
}

// ruleMatches applies the rule's path prefix and filename regex. The
// regex matches the basename anchored at the start but not at the end,
// so ".*\.jpg" also fires on "photo.jpg.bak".
func ruleMatches(rule *db.AutomationRule, eventPath string) bool {
	if rule.PathPattern != "" && !strings.HasPrefix(eventPath, rule.PathPattern) {
		return false
	}
	if rule.FilenameRegex == "" {
		return true
	}
	re, err := regexp.Compile("^(?:" + rule.FilenameRegex + ")")
	if err != nil {
		fs.Errorf(nil, "rule %d (%s) has a bad filename regex %q: %v", rule.ID, rule.Name, rule.FilenameRegex, err)
		return false
	}
	return re.MatchString(path.Base(eventPath))
}
