package memory

import (
	"github.com/hashicorp/go-memdb"
)

const (
	userTable         = "user"
	linkTable         = "linked_account"
	organizationTable = "organization"
	contactTable      = "contact"
	profileTable      = "profile"

	idIndex       = "id"
	emailIndex    = "email"
	usernameIndex = "username"
	nameIndex     = "name"
	orgIndex      = "organization"
)

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			userTable: {
				Name: userTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					emailIndex: {
						Name:         emailIndex,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "Email", Lowercase: true},
					},
					usernameIndex: {
						Name:         usernameIndex,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "Username", Lowercase: true},
					},
				},
			},
			linkTable: {
				Name: linkTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Subject"},
					},
				},
			},
			organizationTable: {
				Name: organizationTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					nameIndex: {
						Name:    nameIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Name"},
					},
				},
			},
			contactTable: {
				Name: contactTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					orgIndex: {
						Name:    orgIndex,
						Indexer: &memdb.StringFieldIndex{Field: "OrganizationID"},
					},
				},
			},
			profileTable: {
				Name: profileTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					nameIndex: {
						Name:    nameIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Name"},
					},
				},
			},
		},
	}
}
