// Package orm maps table rows to objects and writes object changes back in
// units of work.
//
// A Registry maps names to tables and declares the relationships between
// them. An Engine binds a registry to a database and creates Sessions. A
// session holds an identity map with one object per row, records the
// changes made to its objects and writes them on Flush, ordering the
// statements by the foreign keys between the tables:
//
//	md := schema.NewMetaData(users, addresses)
//	reg := orm.NewRegistry(md)
//	User := reg.MustMap("User", orm.HasMany("addresses", "Address",
//		orm.Cascades(orm.CascadeAll|orm.CascadeDeleteOrphan),
//		orm.BackPopulates("user"),
//	))
//	Address := reg.MustMap("Address", orm.BelongsTo("user", "User", orm.BackPopulates("addresses")))
//
//	engine, err := orm.NewEngine(drv, reg)
//	if err != nil {
//		return err
//	}
//	err = engine.WithSession(ctx, func(ctx context.Context, s *orm.Session) error {
//		u := User.MustNew(orm.Values{"name": "jack"})
//		addrs := u.Collection("addresses")
//		if err := addrs.Append(Address.MustNew(orm.Values{"email": "jack@example.com"})); err != nil {
//			return err
//		}
//		return s.Add(u)
//	})
//
// Cycles between tables are broken by writing one nullable foreign key
// with a second UPDATE once both rows exist (see PostUpdate). Cycles of
// NOT NULL keys are rejected when the registry is configured.
package orm
