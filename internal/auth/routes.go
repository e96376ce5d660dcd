package auth

import "github.com/gin-gonic/gin"

// Mount は画面と認証フォームのルートを登録します。
// LoadUser はあらかじめ r に適用しておく必要があります。
func (m *Manager) Mount(r gin.IRoutes) {
	r.GET("/", m.Home)
	r.GET("/register", m.RegisterPage)
	r.POST("/register", m.Register)
	r.GET("/login", m.LoginPage)
	r.POST("/login", m.Login)
	r.POST("/logout", m.Logout)
}
