package schema

import (
	"fmt"
	"strings"
)

// Task identifies a disease-prediction target.
type Task string

const (
	TaskHeart      Task = "heart"
	TaskDiabetes   Task = "diabetes"
	TaskParkinsons Task = "parkinsons"
	TaskGeneral    Task = "general"
)

// Tasks lists every supported task in a stable order.
var Tasks = []Task{TaskHeart, TaskDiabetes, TaskParkinsons, TaskGeneral}

// UnknownTaskError is returned for an unsupported task identifier.
type UnknownTaskError struct {
	Task string
}

func (e *UnknownTaskError) Error() string {
	names := make([]string, len(Tasks))
	for i, t := range Tasks {
		names[i] = string(t)
	}
	return fmt.Sprintf("unknown task %q: expected one of %s", e.Task, strings.Join(names, ", "))
}

// ParseTask accepts task ids with stray whitespace or casing, as sent by
// form fields and query strings.
func ParseTask(s string) (Task, error) {
	t := Task(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Tasks {
		if t == known {
			return t, nil
		}
	}
	return "", &UnknownTaskError{Task: s}
}

func (t Task) String() string { return string(t) }
