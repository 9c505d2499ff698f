package consume

import (
	"github.com/docmill/docmill/workflow"
)

// docState accumulates the metadata a document will be committed with.
// Caller overrides are applied first and pin their fields; trigger
// actions and classifier suggestions layer underneath and never displace
// a pinned value. Tags are additive across all layers. Re-applying the
// same action is a no-op.
type docState struct {
	title           string
	tagOrder        []int64
	tagSet          map[int64]bool
	correspondentID int64
	documentTypeID  int64
	storagePathID   int64
	customFields    map[int64]string

	pinnedTitle         bool
	pinnedCorrespondent bool
	pinnedDocumentType  bool
	pinnedStoragePath   bool
}

func newDocState() *docState {
	return &docState{
		tagSet:       make(map[int64]bool),
		customFields: make(map[int64]string),
	}
}

func (st *docState) addTag(id int64) {
	if id == 0 || st.tagSet[id] {
		return
	}
	st.tagSet[id] = true
	st.tagOrder = append(st.tagOrder, id)
}

func (st *docState) addTags(ids []int64) {
	for _, id := range ids {
		st.addTag(id)
	}
}

// applyAction folds one trigger action into the state, skipping fields
// pinned by an override. Title templates are rendered with the given
// context, which reflects what the current stage is allowed to see.
func (st *docState) applyAction(a workflow.Action, tc workflow.TemplateContext) {
	switch a.Type {
	case workflow.ActionAssignTags:
		st.addTags(a.TagIDs)
	case workflow.ActionAssignCorrespondent:
		if !st.pinnedCorrespondent {
			st.correspondentID = a.EntityID
		}
	case workflow.ActionAssignDocumentType:
		if !st.pinnedDocumentType {
			st.documentTypeID = a.EntityID
		}
	case workflow.ActionAssignStoragePath:
		if !st.pinnedStoragePath {
			st.storagePathID = a.EntityID
		}
	case workflow.ActionSetTitle:
		if !st.pinnedTitle {
			st.title = workflow.Render(a.Title, tc)
		}
	}
}

// applySuggestions fills gaps only: suggested scalars never displace a
// value already assigned or pinned, suggested tags are additive.
func (st *docState) applySuggestions(tagIDs []int64, correspondentID, documentTypeID, storagePathID int64) {
	st.addTags(tagIDs)
	if st.correspondentID == 0 && !st.pinnedCorrespondent {
		st.correspondentID = correspondentID
	}
	if st.documentTypeID == 0 && !st.pinnedDocumentType {
		st.documentTypeID = documentTypeID
	}
	if st.storagePathID == 0 && !st.pinnedStoragePath {
		st.storagePathID = storagePathID
	}
}

// applyOverrides seeds the state with explicit caller intent. It runs
// before any trigger fires so later stages see the declared tags and
// fields, and it pins the scalars it sets.
func (st *docState) applyOverrides(ov *Overrides) {
	if ov == nil {
		return
	}
	st.addTags(ov.TagIDs)
	if ov.Title != nil {
		st.title = *ov.Title
		st.pinnedTitle = true
	}
	if ov.CorrespondentID != nil {
		st.correspondentID = *ov.CorrespondentID
		st.pinnedCorrespondent = true
	}
	if ov.DocumentTypeID != nil {
		st.documentTypeID = *ov.DocumentTypeID
		st.pinnedDocumentType = true
	}
	if ov.StoragePathID != nil {
		st.storagePathID = *ov.StoragePathID
		st.pinnedStoragePath = true
	}
	for id, v := range ov.CustomFields {
		st.customFields[id] = v
	}
}

func optID(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
