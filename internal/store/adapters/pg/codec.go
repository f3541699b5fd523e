package pg

import "encoding/json"

// Los sets de actividad se guardan como JSON compacto ("[10,20]").
func encodeSet(ids []uint32) string {
	if len(ids) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(ids)
	return string(b)
}

func decodeSet(raw string) []uint32 {
	if raw == "" || raw == "[]" {
		return nil
	}
	var ids []uint32
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil
	}
	return ids
}
