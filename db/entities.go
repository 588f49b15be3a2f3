package db

import (
	"fmt"

	"birdquest/model"

	"gorm.io/gorm"
)

// Entity describes one table the bootstrapper owns: its name, the model it
// is created from and a probe that reads at most one row from it.
type Entity struct {
	Name  string
	Model any
	Probe func(tx *gorm.DB) error
}

func entity[T any](name string) Entity {
	return Entity{
		Name:  name,
		Model: new(T),
		Probe: func(tx *gorm.DB) error {
			var rows []T
			return tx.Limit(1).Find(&rows).Error
		},
	}
}

// Entities lists the BirdQuest schema in creation order. Parents come
// before the tables that reference them; drops walk the list backwards.
var Entities = []Entity{
	entity[model.User]("users"),
	entity[model.OwnedBird]("owned_birds"),
	entity[model.CompletedHabit]("completed_habits"),
	entity[model.CustomHabit]("custom_habits"),
	entity[model.HiddenHabit]("hidden_habits"),
}

// CreateMissing creates every table in entities that does not exist yet.
// Existing tables are left exactly as they are, columns included.
func CreateMissing(db *gorm.DB, entities []Entity) error {
	m := db.Migrator()
	for _, e := range entities {
		if m.HasTable(e.Model) {
			continue
		}
		if err := m.CreateTable(e.Model); err != nil {
			return fmt.Errorf("create table %s: %w", e.Name, err)
		}
	}
	return nil
}

// DropAll drops every table in entities, children first. Tables that are
// already gone are skipped.
func DropAll(db *gorm.DB, entities []Entity) error {
	m := db.Migrator()
	for i := len(entities) - 1; i >= 0; i-- {
		if err := m.DropTable(entities[i].Model); err != nil {
			return fmt.Errorf("drop table %s: %w", entities[i].Name, err)
		}
	}
	return nil
}

// Verify probes each entity in order and returns the first failure.
// Probes select the model's own column list, so a table whose columns no
// longer match the model fails as well as a missing one.
func Verify(db *gorm.DB, entities []Entity) error {
	tx := db.Session(&gorm.Session{QueryFields: true})
	for _, e := range entities {
		if err := e.Probe(tx); err != nil {
			return fmt.Errorf("probe %s: %w", e.Name, err)
		}
	}
	return nil
}
