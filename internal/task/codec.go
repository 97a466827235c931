package task

import (
	"fmt"
	"time"

	"github.com/hitoshi/taskpad/internal/docstore"
	"github.com/hitoshi/taskpad/internal/model"
)

// decodeTask はドキュメントストア上のレコードをmodel.Taskに復元する。
// ワイヤ上の形は {title, content, isCompleted, createdAt, updatedAt} で、
// IDは本体に含まれずストアが管理する。
func decodeTask(doc docstore.Document) (model.Task, error) {
	title, err := stringField(doc.Data, "title")
	if err != nil {
		return model.Task{}, err
	}
	content, err := stringField(doc.Data, "content")
	if err != nil {
		return model.Task{}, err
	}

	isCompleted, ok := doc.Data["isCompleted"].(bool)
	if !ok {
		return model.Task{}, fmt.Errorf("field isCompleted is missing or not a bool")
	}

	createdAt, err := timeField(doc.Data, "createdAt")
	if err != nil {
		return model.Task{}, err
	}
	updatedAt, err := timeField(doc.Data, "updatedAt")
	if err != nil {
		return model.Task{}, err
	}

	return model.Task{
		ID:          doc.ID,
		Title:       title,
		Content:     content,
		IsCompleted: isCompleted,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

func stringField(data map[string]any, key string) (string, error) {
	v, ok := data[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("field %s is missing or not a string", key)
	}
	return v, nil
}

func timeField(data map[string]any, key string) (time.Time, error) {
	raw, ok := data[key].(string)
	if !ok {
		return time.Time{}, fmt.Errorf("field %s is missing or not a string", key)
	}
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("field %s is not a valid timestamp: %w", key, err)
	}
	return t, nil
}
