package badger

// Database Key Namespace Design
// ==============================
//
// BadgerDB is a key-value store, so keys carry a prefix naming the kind of
// record they hold.
//
// Data Type             Prefix   Key Format          Value Type
// ==============================================================
// Directory Settings    "d:"     d:<clean path>      settingsRecord (XDR)
// Schema Version        "v:"     v:schema            uint32 (XDR)
//
// Directory paths are stored in their cleaned absolute form, so an
// iteration over the "d:" prefix yields entries in path order.

const (
	// prefixDirectory is the key prefix for directory settings
	prefixDirectory = "d:"

	// keySchema holds the record format version
	keySchema = "v:schema"
)

func keyDirectory(path string) []byte {
	return []byte(prefixDirectory + path)
}

func pathFromKey(key []byte) string {
	return string(key[len(prefixDirectory):])
}
