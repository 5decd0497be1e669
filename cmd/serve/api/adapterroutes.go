package api

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/qihaolou/Foxel/db"
	"github.com/qihaolou/Foxel/fs"
)

// adapterRequest is the create/update body. Enabled defaults to true
// when absent.
type adapterRequest struct {
	Name    string     `json:"name"`
	Type    string     `json:"type"`
	Config  db.JSONMap `json:"config"`
	Enabled *bool      `json:"enabled"`
	Path    string     `json:"path"`
	SubPath string     `json:"sub_path"`
}

// validate checks the request against the registered type schema and
// returns the normalized mount path and config.
func (req *adapterRequest) validate() (string, db.JSONMap, error) {
	if req.Name == "" {
		return "", nil, errors.Wrap(fs.ErrorInvalidArgument, "name is required")
	}
	if req.Path == "" {
		return "", nil, errors.Wrap(fs.ErrorInvalidArgument, "mount path is required")
	}
	ri, err := fs.Find(req.Type)
	if err != nil {
		return "", nil, errors.Wrapf(fs.ErrorInvalidArgument, "unsupported adapter type %q", req.Type)
	}
	cfg, err := ri.ValidateConfig(fs.ConfigMap(req.Config))
	if err != nil {
		return "", nil, err
	}
	return fs.NormalizePath(req.Path), db.JSONMap(cfg), nil
}

// mountPathTaken reports whether another row already mounts at path.
func (s *Server) mountPathTaken(ctx context.Context, path string, selfID uint) (bool, error) {
	var row db.StorageAdapter
	err := s.gdb.WithContext(ctx).Where("path = ?", path).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "checking mount path")
	}
	return row.ID != selfID, nil
}

func (s *Server) handleAdapterList(w http.ResponseWriter, r *http.Request) {
	page := intQuery(r, "page", 1)
	pageSize := intQuery(r, "page_size", 50)
	if page < 1 {
		page = 1
	}
	pageSize = clampInt(pageSize, 1, 500)

	var total int64
	if err := s.gdb.WithContext(r.Context()).Model(&db.StorageAdapter{}).Count(&total).Error; err != nil {
		s.fail(w, r, errors.Wrap(err, "counting adapters"))
		return
	}
	recs := []db.StorageAdapter{}
	err := s.gdb.WithContext(r.Context()).
		Order("id").Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&recs).Error
	if err != nil {
		s.fail(w, r, errors.Wrap(err, "listing adapters"))
		return
	}
	s.reply(w, r, pageData(recs, int(total), page, pageSize))
}

// handleAdapterTypes lists the registered backend types with their
// config schemas.
func (s *Server) handleAdapterTypes(w http.ResponseWriter, r *http.Request) {
	out := make([]map[string]interface{}, 0, len(fs.Registry))
	for _, ri := range fs.Registry {
		out = append(out, map[string]interface{}{
			"type":          ri.Name,
			"name":          ri.Description,
			"config_schema": ri.Options,
		})
	}
	s.reply(w, r, out)
}

func (s *Server) handleAdapterGet(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var rec db.StorageAdapter
	if err := s.gdb.WithContext(r.Context()).First(&rec, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = errors.Wrapf(fs.ErrorNotFound, "adapter %d", id)
		}
		s.fail(w, r, err)
		return
	}
	s.reply(w, r, rec)
}

func (s *Server) handleAdapterCreate(w http.ResponseWriter, r *http.Request) {
	var req adapterRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	path, cfg, err := req.validate()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	taken, err := s.mountPathTaken(r.Context(), path, 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if taken {
		s.fail(w, r, errors.Wrapf(fs.ErrorInvalidArgument, "mount path %q already exists", path))
		return
	}
	rec := db.StorageAdapter{
		Name:    req.Name,
		Type:    req.Type,
		Config:  cfg,
		Enabled: req.Enabled == nil || *req.Enabled,
		Path:    path,
		SubPath: req.SubPath,
	}
	if err := s.gdb.WithContext(r.Context()).Create(&rec).Error; err != nil {
		s.fail(w, r, errors.Wrap(err, "creating adapter"))
		return
	}
	s.vfs.Registry().Upsert(r.Context(), &rec)
	fs.Infof(rec.Name, "adapter %d created at %q", rec.ID, rec.Path)
	s.reply(w, r, rec)
}

func (s *Server) handleAdapterUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var rec db.StorageAdapter
	if err := s.gdb.WithContext(r.Context()).First(&rec, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = errors.Wrapf(fs.ErrorNotFound, "adapter %d", id)
		}
		s.fail(w, r, err)
		return
	}
	var req adapterRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	path, cfg, err := req.validate()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	taken, err := s.mountPathTaken(r.Context(), path, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if taken {
		s.fail(w, r, errors.Wrapf(fs.ErrorInvalidArgument, "mount path %q already exists", path))
		return
	}
	rec.Name = req.Name
	rec.Type = req.Type
	rec.Config = cfg
	rec.Enabled = req.Enabled == nil || *req.Enabled
	rec.Path = path
	rec.SubPath = req.SubPath
	if err := s.gdb.WithContext(r.Context()).Save(&rec).Error; err != nil {
		s.fail(w, r, errors.Wrap(err, "updating adapter"))
		return
	}
	s.vfs.Registry().Upsert(r.Context(), &rec)
	fs.Infof(rec.Name, "adapter %d updated", rec.ID)
	s.reply(w, r, rec)
}

func (s *Server) handleAdapterDelete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res := s.gdb.WithContext(r.Context()).Delete(&db.StorageAdapter{}, id)
	if res.Error != nil {
		s.fail(w, r, errors.Wrap(res.Error, "deleting adapter"))
		return
	}
	if res.RowsAffected == 0 {
		s.fail(w, r, errors.Wrapf(fs.ErrorNotFound, "adapter %d", id))
		return
	}
	s.vfs.Registry().Remove(id)
	fs.Infof(nil, "adapter %d deleted", id)
	s.reply(w, r, map[string]interface{}{"deleted": true})
}
