package store

import "strings"

// Key prefixes. Record keys are {prefix}{id}; relation indexes are
// {prefix}{relatedID}:{ownerID} → empty, so a prefix scan on the related id
// enumerates owners without loading records.
const (
	tagPrefix        = "tag:"
	tagByLabelPrefix = "idx:tags:label:" // idx:tags:label:{label} → tagID

	filePrefix        = "file:"
	fileByTagPrefix   = "idx:files:tag:" // idx:files:tag:{tagID}:{fileID} → empty
	fileByAncPrefix   = "idx:files:anc:" // idx:files:anc:{tagID}:{fileID} → empty
	collectionPrefix  = "coll:"
	collByTagPrefix   = "idx:colls:tag:" // idx:colls:tag:{tagID}:{collID} → empty
	collByAncPrefix   = "idx:colls:anc:" // idx:colls:anc:{tagID}:{collID} → empty
	batchPrefix       = "batch:"
	batchByTagPrefix  = "idx:batches:tag:" // idx:batches:tag:{tagID}:{batchID} → empty
)

// relationKey builds an index key like idx:files:tag:{tagID}:{ownerID}.
func relationKey(prefix, relatedID, ownerID string) []byte {
	var b strings.Builder
	b.Grow(len(prefix) + len(relatedID) + 1 + len(ownerID))
	b.WriteString(prefix)
	b.WriteString(relatedID)
	b.WriteByte(':')
	b.WriteString(ownerID)
	return []byte(b.String())
}

// relationScanPrefix builds the scan prefix for all owners of relatedID.
func relationScanPrefix(prefix, relatedID string) []byte {
	return []byte(prefix + relatedID + ":")
}

// ownerFromRelationKey extracts the owner id from a relation index key.
func ownerFromRelationKey(key []byte) string {
	k := string(key)
	if i := strings.LastIndexByte(k, ':'); i >= 0 {
		return k[i+1:]
	}
	return ""
}

// normalizeLabel canonicalizes a label for the uniqueness index.
func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
