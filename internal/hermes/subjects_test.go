package hermes

import (
	"strings"
	"testing"
)

func TestSubjectsCoveredByStream(t *testing.T) {
	subjects := []string{
		SubjectModelDefaulted("m1"),
		SubjectModelCreated("m1"),
		SubjectModelUpdated("m1"),
		SubjectModelActivated("m1"),
		SubjectSampleRefreshed("s1"),
		SubjectSampleBOMActivated("s1"),
		SubjectOptimizeCompleted,
		SubjectSwapRepairCompleted,
	}
	for _, s := range subjects {
		covered := false
		for _, pattern := range StreamSubjects {
			if strings.HasPrefix(s, strings.TrimSuffix(pattern, ">")) {
				covered = true
			}
		}
		if !covered {
			t.Errorf("subject %s is not captured by stream %s", s, StreamName)
		}
	}
}

func TestActivatedWildcard(t *testing.T) {
	got := SubjectModelActivated("abc")
	want := strings.Replace(SubjectModelActivatedAll, "*", "abc", 1)
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}
