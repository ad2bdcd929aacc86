package protocol

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestFlexBytesBase64(t *testing.T) {
	want := []byte{0x01, 0x02, 0xff}
	encoded, _ := json.Marshal(base64.StdEncoding.EncodeToString(want))

	var f FlexBytes
	if err := json.Unmarshal(encoded, &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(f) != string(want) {
		t.Errorf("got %v, want %v", []byte(f), want)
	}
}

func TestFlexBytesOctetArray(t *testing.T) {
	raw := `[1,2,255,0]`
	var f FlexBytes
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []byte{1, 2, 255, 0}
	if string(f) != string(want) {
		t.Errorf("got %v, want %v", []byte(f), want)
	}
}

func TestFlexBytesThreeEncodingsEquivalent(t *testing.T) {
	want := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	b64 := mustMarshal(t, base64.StdEncoding.EncodeToString(want))
	arr := mustMarshal(t, []int{0xDE, 0xAD, 0xBE, 0xEF})

	var fromB64, fromArr FlexBytes
	if err := json.Unmarshal(b64, &fromB64); err != nil {
		t.Fatalf("unmarshal base64: %v", err)
	}
	if err := json.Unmarshal(arr, &fromArr); err != nil {
		t.Fatalf("unmarshal array: %v", err)
	}
	if string(fromB64) != string(want) || string(fromArr) != string(want) {
		t.Errorf("encodings diverged: b64=%v arr=%v want=%v", []byte(fromB64), []byte(fromArr), want)
	}
}

func TestGamePacketRoundtrip(t *testing.T) {
	pkt := GamePacket{ClientIP: ClientIP{10, 13, 13, 5}, Data: FlexBytes("hello")}
	data, err := json.Marshal(pkt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out GamePacket
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.ClientIP != pkt.ClientIP || string(out.Data) != string(pkt.Data) {
		t.Errorf("roundtrip mismatch: %+v vs %+v", out, pkt)
	}
}

func TestFlexBytesMarshalsAsOctetArray(t *testing.T) {
	f := FlexBytes{0x01, 0x02, 0xff}
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got, want := string(data), "[1,2,255]"; got != want {
		t.Errorf("FlexBytes.MarshalJSON = %s, want %s", got, want)
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}
