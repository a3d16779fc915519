// Package repositorytx runs go-repository-bun repositories inside the
// transactions of a transaction.Manager.
//
// The decorator keeps the repository.Repository[T] surface. Reads join the
// transaction of the calling context, so they see its uncommitted writes.
// Writes run in that transaction, or in one opened for the call, and
// schedule a clear of the repository namespace. The clear is applied when the
// transaction commits or rolls back, never before.
//
//	users := repositorytx.New(base, manager, repositorytx.WithNamespace("app.user"))
//	_ = users.Register(cfg)
//
//	err := proxy.Invoke(ctx, "Rename", func(ctx context.Context) error {
//		u, err := users.GetByID(ctx, id)
//		if err != nil {
//			return err
//		}
//		u.Name = name
//		_, err = users.Update(ctx, u)
//		return err
//	})
//
// Sharing a namespace with an engine.Mapper makes repository writes flush the
// statement results cached for that mapper. WithNamespaces adds further
// namespaces for a single call.
package repositorytx
