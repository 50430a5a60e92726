package ds

import (
	"testing"
	"time"
)

func TestExpMap_SetGet(t *testing.T) {
	em := MakeExpMap[int]()
	em.Set("key1", 1, time.Now().Add(time.Minute))
	v, ok := em.Get("key1")
	if !ok || v != 1 {
		t.Errorf("expected 1, got %d, %v", v, ok)
	}
}

func TestExpMap_Expires(t *testing.T) {
	em := MakeExpMap[int]()
	em.Set("key1", 1, time.Now().Add(10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	if _, ok := em.Get("key1"); ok {
		t.Errorf("expected key1 to have expired")
	}
}

func TestExpMap_Delete(t *testing.T) {
	em := MakeExpMap[int]()
	em.Set("key1", 1, time.Now().Add(time.Minute))
	em.Delete("key1")
	if _, ok := em.Get("key1"); ok {
		t.Errorf("expected key1 to be gone after Delete")
	}
}

func TestExpMap_DeletePrefix(t *testing.T) {
	em := MakeExpMap[int]()
	exp := time.Now().Add(time.Minute)
	em.Set("a/1", 1, exp)
	em.Set("a/2", 2, exp)
	em.Set("b/1", 3, exp)
	em.DeletePrefix("a/")
	if _, ok := em.Get("a/1"); ok {
		t.Errorf("expected a/1 deleted")
	}
	if _, ok := em.Get("a/2"); ok {
		t.Errorf("expected a/2 deleted")
	}
	if v, ok := em.Get("b/1"); !ok || v != 3 {
		t.Errorf("expected b/1 to survive, got %d, %v", v, ok)
	}
}
