package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/manningwu07/namer/model"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	Training  = "training"
	Trained   = "trained"
	Diverged  = "diverged"
	Failed    = "failed"
	Evaluated = "evaluated"
)

// Run indexes one run directory.
type Run struct {
	ID        string `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	ModelType string `gorm:"index"`
	RunName   string `gorm:"index"`
	Directory string `gorm:"uniqueIndex"`
	Status    string

	Epochs          int
	BestEpoch       int
	BestValAccuracy float64
	TestF1          *float64
	Error           string
}

type Registry struct {
	db *gorm.DB
}

func New(db *gorm.DB) (*Registry, error) {
	if err := db.AutoMigrate(&Run{}); err != nil {
		return nil, fmt.Errorf("migrating run registry: %w", err)
	}
	return &Registry{db: db}, nil
}

// Open uses (and creates if needed) the SQLite database at path.
func Open(path string) (*Registry, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("opening run registry %v: %w", path, err)
	}
	return New(db)
}

// Start records a run in the training state. A directory reused within the
// same minute is reset rather than duplicated.
func (r *Registry) Start(modelType, runName, dir string) (Run, error) {
	var run Run
	err := r.db.Where("directory = ?", dir).First(&run).Error
	switch {
	case err == nil:
		run.Status = Training
		run.Epochs, run.BestEpoch, run.BestValAccuracy, run.TestF1, run.Error = 0, 0, 0, nil, ""
		if err := r.db.Save(&run).Error; err != nil {
			return Run{}, fmt.Errorf("resetting run %v: %w", run.ID, err)
		}
		return run, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return Run{}, fmt.Errorf("looking up run %v: %w", dir, err)
	}

	run = Run{
		ID:        uuid.New().String(),
		ModelType: modelType,
		RunName:   runName,
		Directory: dir,
		Status:    Training,
	}
	if err := r.db.Create(&run).Error; err != nil {
		return Run{}, fmt.Errorf("creating run: %w", err)
	}
	return run, nil
}

// Finish stores the outcome of training.
func (r *Registry) Finish(id string, h *model.History, status string, runErr error) error {
	updates := map[string]any{"status": status, "error": ""}
	if runErr != nil {
		updates["error"] = runErr.Error()
	}
	if h != nil {
		updates["epochs"] = len(h.Epochs)
		if best, ok := h.Best(); ok {
			updates["best_epoch"] = best.Epoch
			updates["best_val_accuracy"] = best.ValAccuracy
		}
	}
	return r.update(id, updates)
}

func (r *Registry) RecordEvaluation(id string, f1 float64) error {
	return r.update(id, map[string]any{"status": Evaluated, "test_f1": f1})
}

func (r *Registry) update(id string, updates map[string]any) error {
	res := r.db.Model(&Run{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("updating run %v: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("updating run %v: %w", id, gorm.ErrRecordNotFound)
	}
	return nil
}

func (r *Registry) Get(id string) (Run, error) {
	var run Run
	if err := r.db.First(&run, "id = ?", id).Error; err != nil {
		return Run{}, err
	}
	return run, nil
}

func (r *Registry) FindByDirectory(dir string) (Run, error) {
	var run Run
	if err := r.db.First(&run, "directory = ?", dir).Error; err != nil {
		return Run{}, err
	}
	return run, nil
}

// List returns runs newest first, optionally filtered by model type.
func (r *Registry) List(modelType string) ([]Run, error) {
	query := r.db.Order("created_at desc")
	if modelType != "" {
		query = query.Where("model_type = ?", modelType)
	}
	var runs []Run
	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}
